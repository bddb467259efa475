package services

import (
	"context"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	QueueDepth int64             `json:"queue_depth"`
}

type QueueDepther interface {
	QueueDepth() int64
}

// HealthService pings the backing stores. A nil dependency is reported as
// disabled rather than down.
type HealthService struct {
	checks  map[string]Pinger
	queue   QueueDepther
	timeout time.Duration
}

func NewHealthService(queue QueueDepther, timeout time.Duration) *HealthService {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthService{checks: make(map[string]Pinger), queue: queue, timeout: timeout}
}

func (s *HealthService) Register(name string, p Pinger) *HealthService {
	s.checks[name] = p
	return s
}

func (s *HealthService) Check(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st := &HealthStatus{Status: "ok", Components: make(map[string]string, len(s.checks))}
	for name, p := range s.checks {
		if p == nil {
			st.Components[name] = "disabled"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			st.Components[name] = "down: " + err.Error()
			st.Status = "degraded"
			continue
		}
		st.Components[name] = "up"
	}
	if s.queue != nil {
		st.QueueDepth = s.queue.QueueDepth()
	}
	return st
}
