package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/logger"
)

const DefaultControlTTL = 10 * time.Second

type ControlStore interface {
	Get(ctx context.Context, name string) (*model.WebhookControl, error)
	Upsert(ctx context.Context, name string, enabled bool) (*model.WebhookControl, error)
}

// ControlService is the operator kill switch for ingestion. The durable value
// lives in the store; readers see a copy that is at most ttl old.
type ControlService struct {
	store ControlStore
	name  string
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	enabled   bool
	cached    bool
	expiresAt time.Time
}

func NewControlService(store ControlStore, name string, ttl time.Duration) *ControlService {
	if ttl <= 0 {
		ttl = DefaultControlTTL
	}
	return &ControlService{store: store, name: name, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (s *ControlService) WithClock(now func() time.Time) *ControlService {
	s.now = now
	return s
}

// Enabled never fails: an unreadable store keeps the last known value, and a
// switch that was never set counts as on.
func (s *ControlService) Enabled(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached && now.Before(s.expiresAt) {
		return s.enabled
	}

	c, err := s.store.Get(ctx, s.name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.enabled = true
	case err != nil:
		fallback := !s.cached || s.enabled
		logger.Warn("webhook control unreadable, using last known value", "name", s.name, "enabled", fallback, "error", err)
		return fallback
	default:
		s.enabled = c.Enabled
	}
	s.cached = true
	s.expiresAt = now.Add(s.ttl)
	return s.enabled
}

// Set persists the switch and refreshes the local copy right away.
func (s *ControlService) Set(ctx context.Context, enabled bool) (*model.WebhookControl, error) {
	c, err := s.store.Upsert(ctx, s.name, enabled)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.enabled = c.Enabled
	s.cached = true
	s.expiresAt = s.now().Add(s.ttl)
	s.mu.Unlock()

	logger.Info("webhook control updated", "name", s.name, "enabled", c.Enabled)
	return c, nil
}

// State returns the durable row, synthesizing the default when absent.
func (s *ControlService) State(ctx context.Context) (*model.WebhookControl, error) {
	c, err := s.store.Get(ctx, s.name)
	if errors.Is(err, repository.ErrNotFound) {
		return &model.WebhookControl{Name: s.name, Enabled: true}, nil
	}
	return c, err
}
