package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/redis"
)

var (
	ErrAlreadyProcessed  = errors.New("delivery already processed")
	ErrLockAcquireFailed = errors.New("failed to acquire delivery lock")
	ErrDeliveryInFlight  = errors.New("delivery is being processed by a concurrent request")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "delivery:lock:",
		ProcessedKeyPrefix: "delivery:processed:",
	}
}

// IdempotencyService short-circuits webhook redeliveries before they reach the
// database. The unique external id check in storage stays authoritative; this
// only keeps concurrent retries of one delivery from racing each other.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	DeliveryKey  string
	lockAcquired bool
}

// DeliveryKey identifies one logical delivery within a thread.
func DeliveryKey(threadKey, externalID, rawHash string) string {
	if externalID != "" {
		return threadKey + ":" + externalID
	}
	return threadKey + ":h:" + rawHash
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, key string) (*ProcessingContext, error) {
	// Step 1: long-term marker left by a delivery that already committed
	processedKey := s.config.ProcessedKeyPrefix + key
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		logger.Warn("Failed to check processed status", "delivery_key", key, "error", err)
		// storage dedup still catches it
	} else if exists > 0 {
		logger.Info("Delivery already processed, skipping", "delivery_key", key)
		return nil, ErrAlreadyProcessed
	}

	// Step 2: short-term lock against a concurrent retry of the same delivery
	lockKey := s.config.LockKeyPrefix + key
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("Failed to acquire lock", "delivery_key", key, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}

	if !acquired {
		logger.Info("Lock already held by a concurrent delivery", "delivery_key", key)
		return nil, ErrDeliveryInFlight
	}

	logger.Debug("Delivery lock acquired", "delivery_key", key, "lock_ttl", s.config.LockTTL)

	return &ProcessingContext{
		DeliveryKey:  key,
		lockAcquired: true,
	}, nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil {
		return nil
	}
	processedKey := s.config.ProcessedKeyPrefix + pc.DeliveryKey
	if err := s.redis.Set(processedKey, []byte("1"), s.config.ProcessedTTL); err != nil {
		logger.Error("Failed to mark delivery as processed", "delivery_key", pc.DeliveryKey, "error", err)
		_ = s.ReleaseLock(ctx, pc)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	return s.ReleaseLock(ctx, pc)
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.DeliveryKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to release lock", "delivery_key", pc.DeliveryKey, "error", err)
		return err
	}

	pc.lockAcquired = false
	logger.Debug("Delivery lock released", "delivery_key", pc.DeliveryKey)
	return nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.redis.Exist(s.config.ProcessedKeyPrefix + key)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
