package deadletter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/redis"
	"github.com/pkg/errors"
)

const (
	TierDatabase = "database"
	TierRedis    = "redis"
	TierFile     = "file"
)

// DefaultRedisKey is the list the secondary tier pushes onto.
const DefaultRedisKey = "dead_letters"

type DeadLetterCreator interface {
	Create(ctx context.Context, dl *model.DeadLetter) (*model.DeadLetter, error)
}

// RepositorySink is the primary tier, the reviewable table.
type RepositorySink struct {
	repo DeadLetterCreator
}

func NewRepositorySink(repo DeadLetterCreator) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Name() string { return TierDatabase }

func (s *RepositorySink) Write(ctx context.Context, dl *model.DeadLetter) error {
	_, err := s.repo.Create(ctx, dl)
	return err
}

// RedisSink appends JSON records to a redis list when the database is away.
type RedisSink struct {
	adapter redis.RedisAdapter
	key     string
}

func NewRedisSink(adapter redis.RedisAdapter, key string) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{adapter: adapter, key: key}
}

func (s *RedisSink) Name() string { return TierRedis }

func (s *RedisSink) Write(ctx context.Context, dl *model.DeadLetter) error {
	if s.adapter == nil {
		return errors.New("redis sink is not configured")
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "marshal dead letter")
	}
	return s.adapter.Client().RPush(context.WithoutCancel(ctx), s.key, b).Err()
}

// FileSink is the last resort: one JSON document per line.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Name() string { return TierFile }

func (s *FileSink) Write(_ context.Context, dl *model.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "marshal dead letter")
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create dir %s", dir)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.path)
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return errors.Wrapf(err, "append %s", s.path)
	}
	return nil
}
