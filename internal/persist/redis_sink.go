package persist

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ocx/ecsforge/internal/telemetry"
)

// RedisClient is the minimal surface RedisSink depends on, satisfied by
// *RedisAdapter (go-redis v9) or a test fake — the sink itself never
// imports the driver directly.
type RedisClient interface {
	RPush(ctx context.Context, key string, value []byte) error
}

// RedisSink appends each persisted delta to a Redis list per (entity,
// command id), namespaced by keyPrefix — an append-only changelog a
// separate consumer can replay or compact.
type RedisSink struct {
	client    RedisClient
	keyPrefix string
	timeout   time.Duration
	metrics   *telemetry.Metrics
	logger    *log.Logger
}

// NewRedisSink constructs a RedisSink. keyPrefix defaults to "ecsforge:".
func NewRedisSink(client RedisClient, keyPrefix string, metrics *telemetry.Metrics, logger *log.Logger) *RedisSink {
	if keyPrefix == "" {
		keyPrefix = "ecsforge:"
	}
	if logger == nil {
		logger = defaultLogger("[PERSIST redis] ")
	}
	return &RedisSink{client: client, keyPrefix: keyPrefix, timeout: 2 * time.Second, metrics: metrics, logger: logger}
}

func (s *RedisSink) key(entity EntityID, commandID uint32) string {
	return fmt.Sprintf("%sentity:%d:component:%d", s.keyPrefix, entity, commandID)
}

// Persist appends framed to the (entity, commandID) changelog list. Errors are
// logged and otherwise swallowed — the Database direction must never
// stall the commit pass (§7).
func (s *RedisSink) Persist(entity EntityID, commandID uint32, framed []byte) {
	start := timeSource()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.client.RPush(ctx, s.key(entity, commandID), framed)
	recordDuration(s.metrics, "redis", start, err)
	if err != nil {
		s.logger.Printf("RPush entity=%d command=%#x failed: %v", entity, commandID, err)
	}
}
