package processor

import (
	"context"
	"time"

	"github.com/nimasrn/crm-inbox/internal/fanout"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/pkg/errors"
)

var ErrThreadNotFound = errors.New("thread not found for queued message")

type ThreadRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Thread, error)
	FindByKey(ctx context.Context, key string) (*model.Thread, error)
}

type PipelineHistoryRepository interface {
	Append(ctx context.Context, h *model.PipelineHistory) (*model.PipelineHistory, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// IngestionSwitch reports the operator kill switch.
type IngestionSwitch interface {
	Enabled(ctx context.Context) bool
}

// EnrichmentProcessor does the slow part of ingestion: pipeline bookkeeping
// and the real-time notification. The thread must already exist, it is never
// created here.
type EnrichmentProcessor struct {
	threads      ThreadRepository
	history      PipelineHistoryRepository
	tx           Transactor
	control      IngestionSwitch
	notifier     fanout.Notifier
	defaultFlow  string
	defaultStage string
	now          func() time.Time
}

func NewEnrichmentProcessor(
	threads ThreadRepository,
	history PipelineHistoryRepository,
	tx Transactor,
	control IngestionSwitch,
	notifier fanout.Notifier,
	defaultPipeline, defaultStage string,
) *EnrichmentProcessor {
	if notifier == nil {
		notifier = fanout.Nop{}
	}
	return &EnrichmentProcessor{
		threads:      threads,
		history:      history,
		tx:           tx,
		control:      control,
		notifier:     notifier,
		defaultFlow:  defaultPipeline,
		defaultStage: defaultStage,
		now:          time.Now,
	}
}

func (p *EnrichmentProcessor) GetType() string {
	return "enrichment"
}

func (p *EnrichmentProcessor) Process(ctx context.Context, msg *model.IncomingMessage) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if p.control != nil && !p.control.Enabled(ctx) {
		logger.Info("ingestion disabled, skipping enrichment", "thread_key", msg.ThreadKey, "message_id", msg.MessageID)
		return nil
	}

	// the lookup runs on the write side: the row was committed moments ago
	// and a lagging replica may not have it yet
	var thread *model.Thread
	err := p.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if thread, err = p.lookup(ctx, msg); err != nil {
			return err
		}
		// reactions and agent sends only need the notification
		if msg.Action != model.ActionInitial && msg.Action != "" {
			return nil
		}
		_, err = p.history.Append(ctx, &model.PipelineHistory{
			ThreadID:     thread.ID,
			PipelineName: p.pipelineName(msg),
			StageName:    p.stageName(msg),
			Source:       model.PipelineSourceWorker,
			ChangedUTC:   p.now().UTC(),
		})
		return errors.Wrapf(err, "append pipeline history for thread %d", thread.ID)
	})
	if err != nil {
		return err
	}

	ev := fanout.EventFromIncoming(msg)
	ev.ThreadDBID = thread.ID
	if ev.BusinessAccountID == "" {
		ev.BusinessAccountID = thread.BusinessAccountID
	}
	p.notifier.Notify(ctx, ev)

	logger.Debug("message enriched",
		"thread_key", msg.ThreadKey,
		"thread_id", thread.ID,
		"message_id", msg.MessageID,
		"action", msg.Action,
		"title", msg.Title)
	return nil
}

func (p *EnrichmentProcessor) lookup(ctx context.Context, msg *model.IncomingMessage) (*model.Thread, error) {
	var (
		thread *model.Thread
		err    error
	)
	if msg.ThreadID > 0 {
		thread, err = p.threads.GetByID(ctx, msg.ThreadID)
	} else {
		thread, err = p.threads.FindByKey(ctx, msg.ThreadKey)
	}
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("thread missing for queued message", "thread_key", msg.ThreadKey, "thread_id", msg.ThreadID)
		return nil, errors.Wrapf(ErrThreadNotFound, "thread_key=%s", msg.ThreadKey)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lookup thread")
	}
	return thread, nil
}

func (p *EnrichmentProcessor) pipelineName(msg *model.IncomingMessage) string {
	if msg.AI != nil && msg.AI.PipelineName != "" {
		return msg.AI.PipelineName
	}
	return p.defaultFlow
}

func (p *EnrichmentProcessor) stageName(msg *model.IncomingMessage) string {
	if msg.AI != nil && msg.AI.StageName != "" {
		return msg.AI.StageName
	}
	return p.defaultStage
}
