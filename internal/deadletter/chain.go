package deadletter

import (
	"context"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
	"github.com/pkg/errors"
)

// ErrAllSinksFailed is returned when not a single tier accepted the record.
var ErrAllSinksFailed = errors.New("dead letter: every sink failed")

// Sink is one durable tier of the fallback chain.
type Sink interface {
	Name() string
	Write(ctx context.Context, dl *model.DeadLetter) error
}

// Chain writes a failure record to the first sink that accepts it. Later
// tiers are only tried when every earlier one failed.
type Chain struct {
	sinks []Sink
	now   func() time.Time
}

func NewChain(sinks ...Sink) *Chain {
	return &Chain{sinks: sinks, now: time.Now}
}

// Record stores raw together with the cause. The returned error is non-nil
// only when the record was lost on every tier; callers log it and move on.
func (c *Chain) Record(ctx context.Context, raw string, cause error, source string) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	src := source
	dl := &model.DeadLetter{
		RawPayload:  raw,
		Error:       msg,
		Source:      &src,
		OccurredUTC: c.now().UTC(),
	}

	var last error
	for _, s := range c.sinks {
		err := s.Write(ctx, dl)
		if err == nil {
			prom.IncDeadLetter(source, s.Name())
			logger.Warn("dead letter recorded", "sink", s.Name(), "source", source, "error", msg)
			return nil
		}
		last = err
		logger.Error("dead letter sink failed", "sink", s.Name(), "source", source, "error", err)
	}

	prom.IncDeadLetter(source, "lost")
	logger.Error("dead letter lost", "source", source, "error", msg, "last_sink_error", last)
	return ErrAllSinksFailed
}
