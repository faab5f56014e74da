package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"job-delivery-service/internal/upstream"
)

// Queue is a reliable queue of push notifications.
type Queue interface {
	Enqueue(ctx context.Context, rep upstream.StatusReport) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (QueuedReport, error)
	Ack(ctx context.Context, msg QueuedReport) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

// QueuedReport is a claimed queue entry. Raw is the exact list element, used
// to remove it on Ack.
type QueuedReport struct {
	ID         string                `json:"id"`
	Report     upstream.StatusReport `json:"report"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
	Raw        string                `json:"-"`
}

// ErrQueueEmpty is returned by ClaimBlocking when nothing arrived in time.
var ErrQueueEmpty = errors.New("queue empty")

// redisQueue implements Queue with two Redis lists.
// Enqueue: LPUSH queue
// Claim:   BLMOVE queue -> processing (RIGHT -> LEFT)
// Ack:     LREM processing
// Entries left in processing by a crashed worker are moved back by
// RequeueStale. That can hand the same notification out twice, which the
// delivery lock absorbs.
type redisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

func NewRedisQueue(rdb *redis.Client, queueKey, processingKey string) Queue {
	return &redisQueue{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: processingKey,
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, rep upstream.StatusReport) error {
	raw, err := EncodeQueued(QueuedReport{
		ID:         uuid.NewString(),
		Report:     rep,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.queueKey, raw).Err()
}

func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (QueuedReport, error) {
	raw, err := q.rdb.BLMove(ctx, q.queueKey, q.processingKey, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return QueuedReport{}, ErrQueueEmpty
		}
		return QueuedReport{}, err
	}

	msg, err := DecodeQueued(raw)
	if err != nil {
		// Poison entry: drop it so it does not cycle through requeue forever.
		_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
		return QueuedReport{}, err
	}
	return msg, nil
}

func (q *redisQueue) Ack(ctx context.Context, msg QueuedReport) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, msg.Raw).Err()
}

// RequeueStale moves up to max entries from processing back to the queue.
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		_, err := q.rdb.LMove(ctx, q.processingKey, q.queueKey, "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func EncodeQueued(msg QueuedReport) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode queued report: %w", err)
	}
	return string(b), nil
}

func DecodeQueued(raw string) (QueuedReport, error) {
	var msg QueuedReport
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return QueuedReport{}, fmt.Errorf("decode queued report: %w", err)
	}
	if msg.Report.ExternalTaskID == "" {
		return QueuedReport{}, fmt.Errorf("decode queued report: %w", upstream.ErrMissingTaskID)
	}
	msg.Raw = raw
	return msg, nil
}
