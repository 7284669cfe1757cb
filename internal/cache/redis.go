// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/bingo/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for match action logs.
const DefaultQueueName = "bingo_actions"

// ConnectRedis opens a client to addr and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ActionLog pushes match actions onto a Redis list consumed by the historian.
type ActionLog struct {
	rdb   *redis.Client
	queue string
}

func NewActionLog(rdb *redis.Client, queue string) *ActionLog {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ActionLog{rdb: rdb, queue: queue}
}

// Queue returns the name of the Redis list written to.
func (l *ActionLog) Queue() string {
	return l.queue
}

// PublishMatchAction serializes the record to JSON and pushes it to the queue.
// This does not block the caller beyond a quick network send.
func (l *ActionLog) PublishMatchAction(ctx context.Context, rec models.MatchAction) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchAction: %w", err)
	}
	if err := l.rdb.RPush(ctx, l.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", l.queue, err)
	}
	return nil
}
