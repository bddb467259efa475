package fanout

import (
	"context"
	"strings"

	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/redis"
)

const ChannelPrefix = "inbox:events:"

func Channel(accountID string) string {
	return ChannelPrefix + accountID
}

// RedisPublisher lets every api replica see the events of the others.
type RedisPublisher struct {
	adapter redis.RedisAdapter
}

func NewRedisPublisher(adapter redis.RedisAdapter) *RedisPublisher {
	return &RedisPublisher{adapter: adapter}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, accountID string, payload []byte) error {
	return p.adapter.Publish(ctx, Channel(accountID), payload)
}

// RelayToHub subscribes to every account channel and replays what arrives on
// the local hub. It blocks until ctx is done.
func RelayToHub(ctx context.Context, adapter redis.RedisAdapter, hub *Hub) error {
	logger.Info("fanout: relaying redis events to hub", "pattern", ChannelPrefix+"*")
	return adapter.PSubscribe(ctx, ChannelPrefix+"*", func(msg redis.PubSubMessage) {
		account := strings.TrimPrefix(msg.Channel, ChannelPrefix)
		hub.Broadcast(account, msg.Payload)
	})
}
