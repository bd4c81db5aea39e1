package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ListPusher is the part of the redis client RedisQueue needs.
type ListPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisQueue appends a payout job to a Redis list for an external payment
// worker to consume.
type RedisQueue struct {
	Client ListPusher
	Key    string
	Now    func() time.Time
}

// Job is the JSON document pushed onto the queue.
type Job struct {
	BountyID string `json:"bounty_id"`
	PayeeID  string `json:"payee_id"`
	Amount   int64  `json:"amount"`
	QueuedAt string `json:"queued_at"`
}

// NewRedisQueue connects to addr. The returned client must be closed by the
// caller.
func NewRedisQueue(addr, key string) (*RedisQueue, *redis.Client) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisQueue{Client: client, Key: key, Now: time.Now}, client
}

func (q *RedisQueue) OnBountyCompleted(ctx context.Context, bountyID, payeeID string, amount int64) error {
	now := q.Now
	if now == nil {
		now = time.Now
	}
	data, err := json.Marshal(Job{
		BountyID: bountyID,
		PayeeID:  payeeID,
		Amount:   amount,
		QueuedAt: now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := q.Client.RPush(ctx, q.Key, string(data)).Err(); err != nil {
		return fmt.Errorf("payout queue %s: %w", q.Key, err)
	}
	return nil
}
