package worker

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/nimasrn/crm-inbox/pkg/logger"
)

var ErrClosed = errors.New("worker manager is closed")

type WorkerHandler = func(workerIndex int, job interface{})

// PanicHandler receives a job whose handler panicked together with the
// recovered value.
type PanicHandler = func(workerIndex int, job interface{}, err error)

type WorkerManager struct {
	mu             sync.Mutex
	jobs           *list.List
	closed         bool
	wake           chan struct{}
	done           chan struct{}
	numberOfWorker int
	do             WorkerHandler
	onPanic        PanicHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager
// is a job manager based on go routines over an unbounded FIFO. Enqueue never
// blocks the producer; workers park while the queue is empty and resume on the
// next Enqueue. A panic inside the handler is recovered per job so one bad job
// never stops a worker.
func NewWorkerManager(numberOfWorkers int) *WorkerManager {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &WorkerManager{
		jobs:           list.New(),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		numberOfWorker: numberOfWorkers,
		waiter:         &sync.WaitGroup{},
	}
}

// GetUnreadCount returns the number of jobs waiting for a worker.
func (w *WorkerManager) GetUnreadCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.jobs.Len())
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

func (w *WorkerManager) SetPanicHandler(h PanicHandler) {
	w.onPanic = h
}

// Enqueue
// appends a job at the tail of the queue.
func (w *WorkerManager) Enqueue(val interface{}) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.jobs.PushBack(val)
	w.mu.Unlock()

	w.signal()
	return nil
}

// Start
// starts off the workers as many as defined by numberOfWorker and blocks
// until Exit is called and the queue is drained.
func (w *WorkerManager) Start() error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go w.loop(i)
	}
	w.waiter.Wait()

	return errors.New("workers terminated")
}

// Exit
// stops accepting jobs. Workers finish what is already queued and return.
func (w *WorkerManager) Exit() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	logger.Info("Exit() is called and worker manager is going to be shutdown", "pending", w.GetUnreadCount())
	close(w.done)
}

func (w *WorkerManager) loop(index int) {
	defer w.waiter.Done()
	for {
		job, ok := w.next()
		if ok {
			w.run(index, job)
			continue
		}

		select {
		case <-w.wake:
		case <-w.done:
			// drain whatever was queued before Exit
			for {
				job, ok := w.next()
				if !ok {
					return
				}
				w.run(index, job)
			}
		}
	}
}

func (w *WorkerManager) next() (interface{}, bool) {
	w.mu.Lock()
	front := w.jobs.Front()
	if front == nil {
		w.mu.Unlock()
		return nil, false
	}
	job := w.jobs.Remove(front)
	more := w.jobs.Len() > 0
	w.mu.Unlock()

	// hand the remaining backlog to a parked sibling
	if more {
		w.signal()
	}
	return job, true
}

func (w *WorkerManager) run(index int, job interface{}) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker panic: %v", r)
			logger.Error("worker recovered from panic", "worker", index, "error", err)
			if w.onPanic != nil {
				w.onPanic(index, job, err)
			}
		}
	}()
	w.do(index, job)
}

func (w *WorkerManager) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
