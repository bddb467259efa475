package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
	"github.com/nimasrn/crm-inbox/pkg/worker"
	"github.com/pkg/errors"
)

const ProcessingTimeout = time.Second * 30
const MetricsInterval = time.Second * 30

// ErrStopped is returned by Dispatch once shutdown began.
var ErrStopped = errors.New("processor service is stopped")

// Processor interface for queued message processors
type Processor interface {
	Process(ctx context.Context, message *model.IncomingMessage) error
	GetType() string
}

type DeadLetterRecorder interface {
	Record(ctx context.Context, raw string, cause error, source string) error
}

// ProcessorService owns the in-process dispatch queue. Producers never block;
// a single consumer drains items in order so enrichment of one thread is
// never reordered.
type ProcessorService struct {
	processor  Processor
	deadLetter DeadLetterRecorder
	counters   *dispatchCounters
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	worker     *worker.WorkerManager
	timeout    time.Duration
}

func NewProcessorService(p Processor, deadLetter DeadLetterRecorder) *ProcessorService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ProcessorService{
		processor:  p,
		deadLetter: deadLetter,
		counters:   newDispatchCounters(),
		ctx:        ctx,
		cancel:     cancel,
		worker:     worker.NewWorkerManager(1),
		timeout:    ProcessingTimeout,
	}
	s.worker.SetWorker(s.workerHandler)
	s.worker.SetPanicHandler(s.panicHandler)
	return s
}

// Start starts the consumer loop in the background.
func (s *ProcessorService) Start() {
	logger.Info("Starting Processor Service...", "processor", s.processor.GetType())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Info("Worker manager stopped", "reason", err)
		}
	}()

	s.wg.Add(1)
	go s.metricsReporter()
}

// Dispatch appends the message to the queue and returns immediately.
func (s *ProcessorService) Dispatch(_ context.Context, msg *model.IncomingMessage) error {
	if err := s.worker.Enqueue(msg); err != nil {
		if errors.Is(err, worker.ErrClosed) {
			return ErrStopped
		}
		return err
	}
	prom.SetWorkerQueueDepth(s.worker.GetUnreadCount())
	return nil
}

func (s *ProcessorService) QueueDepth() int64 {
	return s.worker.GetUnreadCount()
}

func (s *ProcessorService) Stats() WorkerStats {
	return s.counters.snapshot(s.worker.GetUnreadCount())
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	st := s.Stats()
	prom.SetWorkerQueueDepth(st.QueueDepth)
	logger.Info("Worker metrics",
		"processed", st.Processed,
		"failed", st.Failed,
		"dead_lettered", st.DeadLettered,
		"rate_per_second", st.RatePerSecond,
		"avg_duration_ms", st.AvgDuration.Milliseconds(),
		"queue_depth", st.QueueDepth)
}

// Stop stops accepting new items, drains what is queued and waits.
func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Processor Service...", "pending", s.worker.GetUnreadCount())

	s.worker.Exit()
	s.cancel()
	s.wg.Wait()

	s.reportMetrics()
	logger.Info("Processor Service stopped")
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	msg, ok := job.(*model.IncomingMessage)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex, "type", fmt.Sprintf("%T", job))
		return
	}
	prom.SetWorkerQueueDepth(s.worker.GetUnreadCount())

	// queued work is finished even during shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.processor.Process(ctx, msg); err != nil {
		s.fail(ctx, msg, err)
		return
	}
	s.counters.success(time.Since(start))
	prom.IncWorkerProcessed("ok")
}

func (s *ProcessorService) panicHandler(workerIndex int, job interface{}, err error) {
	msg, _ := job.(*model.IncomingMessage)
	logger.Error("Worker panicked", "worker", workerIndex, "error", err)
	s.fail(context.WithoutCancel(s.ctx), msg, err)
}

func (s *ProcessorService) fail(ctx context.Context, msg *model.IncomingMessage, cause error) {
	prom.IncWorkerProcessed("failed")

	raw := ""
	if msg != nil {
		if b, err := json.Marshal(msg); err == nil {
			raw = string(b)
		}
		logger.Error("Failed to process message", "thread_key", msg.ThreadKey, "message_id", msg.MessageID, "error", cause)
	}
	if s.deadLetter == nil {
		s.counters.failure(false)
		return
	}
	if err := s.deadLetter.Record(ctx, raw, cause, model.DeadLetterSourceWorker); err != nil {
		s.counters.failure(false)
		logger.Error("worker failure could not be dead-lettered", "error", err)
		return
	}
	s.counters.failure(true)
}
