package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/crm-inbox/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Mock Redis adapter for testing
type mockRedisAdapter struct {
	data    map[string][]byte
	ttls    map[string]time.Time
	failAll error
}

func newMockRedisAdapter() *mockRedisAdapter {
	return &mockRedisAdapter{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Time),
	}
}

func (m *mockRedisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	if m.failAll != nil {
		return false, m.failAll
	}
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *mockRedisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	if m.failAll != nil {
		return m.failAll
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *mockRedisAdapter) Get(key string) ([]byte, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return nil, redis.NilError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, redis.NilError
}

func (m *mockRedisAdapter) Del(key string) error {
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockRedisAdapter) Exist(key string) (int64, error) {
	if m.failAll != nil {
		return 0, m.failAll
	}
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return 0, nil
	}
	if _, ok := m.data[key]; ok {
		return 1, nil
	}
	return 0, nil
}

// Stub implementations for unused methods
func (m *mockRedisAdapter) Ping(ctx context.Context) error  { return m.failAll }
func (m *mockRedisAdapter) Client() goredis.UniversalClient { return nil }
func (m *mockRedisAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}
func (m *mockRedisAdapter) PSubscribe(ctx context.Context, pattern string, fn func(redis.PubSubMessage)) error {
	return nil
}

func TestDeliveryKey(t *testing.T) {
	if got := DeliveryKey("wa:521", "ABC", "ffff"); got != "wa:521:ABC" {
		t.Errorf("unexpected key %s", got)
	}
	if got := DeliveryKey("wa:521", "", "ffff"); got != "wa:521:h:ffff" {
		t.Errorf("unexpected key %s", got)
	}
}

func TestIdempotencyService_AcquireProcessingLock_FirstAttempt(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	service := NewIdempotencyService(mockRedis, DefaultIdempotencyConfig())

	ctx := context.Background()
	key := "wa:5215512345678:MSG1"

	procCtx, err := service.AcquireProcessingLock(ctx, key)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if procCtx == nil {
		t.Fatal("Expected processing context, got nil")
	}
	if procCtx.DeliveryKey != key {
		t.Errorf("Expected key %s, got %s", key, procCtx.DeliveryKey)
	}
	if !procCtx.lockAcquired {
		t.Error("Expected lock to be acquired")
	}
}

func TestIdempotencyService_AcquireProcessingLock_Concurrent(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	service := NewIdempotencyService(mockRedis, DefaultIdempotencyConfig())

	ctx := context.Background()
	key := "wa:5215512345678:MSG2"

	procCtx1, err := service.AcquireProcessingLock(ctx, key)
	if err != nil {
		t.Fatalf("First lock acquisition failed: %v", err)
	}

	// a retry of the same delivery arrives while the first is in flight
	procCtx2, err := service.AcquireProcessingLock(ctx, key)
	if !errors.Is(err, ErrDeliveryInFlight) {
		t.Errorf("Expected ErrDeliveryInFlight, got: %v", err)
	}
	if procCtx2 != nil {
		t.Error("Expected nil context for second delivery")
	}
	if !procCtx1.lockAcquired {
		t.Error("First delivery should still have lock")
	}
}

func TestIdempotencyService_MarkSuccess(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	service := NewIdempotencyService(mockRedis, DefaultIdempotencyConfig())

	ctx := context.Background()
	key := "wa:5215512345678:MSG3"

	procCtx, err := service.AcquireProcessingLock(ctx, key)
	if err != nil {
		t.Fatalf("Lock acquisition failed: %v", err)
	}

	if err := service.MarkSuccess(ctx, procCtx); err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}
	if procCtx.lockAcquired {
		t.Error("MarkSuccess should release the lock")
	}

	processed, err := service.IsProcessed(ctx, key)
	if err != nil {
		t.Fatalf("IsProcessed check failed: %v", err)
	}
	if !processed {
		t.Error("Delivery should be marked as processed")
	}

	procCtx2, err := service.AcquireProcessingLock(ctx, key)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("Expected ErrAlreadyProcessed, got: %v", err)
	}
	if procCtx2 != nil {
		t.Error("Expected nil context for already processed delivery")
	}
}

func TestIdempotencyService_ReleaseLock(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	service := NewIdempotencyService(mockRedis, DefaultIdempotencyConfig())

	ctx := context.Background()
	key := "wa:5215512345678:MSG4"

	procCtx, err := service.AcquireProcessingLock(ctx, key)
	if err != nil {
		t.Fatalf("Lock acquisition failed: %v", err)
	}

	if err := service.ReleaseLock(ctx, procCtx); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if procCtx.lockAcquired {
		t.Error("Lock should be marked as released")
	}

	// a failed delivery must stay retryable
	procCtx2, err := service.AcquireProcessingLock(ctx, key)
	if err != nil {
		t.Fatalf("Second lock acquisition failed: %v", err)
	}
	if procCtx2 == nil {
		t.Fatal("Expected processing context, got nil")
	}

	if err := service.ReleaseLock(ctx, nil); err != nil {
		t.Errorf("ReleaseLock(nil) should be a no-op, got %v", err)
	}
}

func TestIdempotencyService_RedisDown(t *testing.T) {
	mockRedis := newMockRedisAdapter()
	mockRedis.failAll = errors.New("connection refused")
	service := NewIdempotencyService(mockRedis, DefaultIdempotencyConfig())

	_, err := service.AcquireProcessingLock(context.Background(), "wa:1:X")
	if !errors.Is(err, ErrLockAcquireFailed) {
		t.Errorf("Expected ErrLockAcquireFailed, got: %v", err)
	}
}
