package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
)

// Notifier pushes an event to every agent watching the account. It never
// reports failure: fanout is best effort and must not fail persistence.
type Notifier interface {
	Notify(ctx context.Context, ev *Event)
}

// Publisher is a single transport the Fanout writes to.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, accountID string, payload []byte) error
}

// Fanout marshals an event once and hands it to every publisher.
type Fanout struct {
	publishers []Publisher
}

func New(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) Notify(ctx context.Context, ev *Event) {
	if ev == nil || len(f.publishers) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("fanout: marshal event", "error", err, "thread_key", ev.ThreadKey)
		return
	}
	for _, p := range f.publishers {
		f.publish(ctx, p, ev, payload)
	}
}

func (f *Fanout) publish(ctx context.Context, p Publisher, ev *Event, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			prom.IncFanoutFailure(p.Name())
			logger.Error("fanout: publisher panicked", "transport", p.Name(), "panic", fmt.Sprint(r))
		}
	}()
	if err := p.Publish(ctx, ev.BusinessAccountID, payload); err != nil {
		prom.IncFanoutFailure(p.Name())
		logger.Warn("fanout: publish failed",
			"transport", p.Name(),
			"account", ev.BusinessAccountID,
			"thread_key", ev.ThreadKey,
			"error", err)
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, *Event) {}
