package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient is the subset of *redis.Client the sink uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes alerts on a Redis channel. Each job alerts at most once
// per dedupe window across every instance sharing the Redis server.
type RedisSink struct {
	rdb       redisClient
	channel   string
	keyPrefix string
	window    time.Duration
	log       *LogSink
}

func NewRedisSink(rdb redisClient, channel string, window time.Duration, log zerolog.Logger) *RedisSink {
	return &RedisSink{
		rdb:       rdb,
		channel:   channel,
		keyPrefix: channel + ":orphan:",
		window:    window,
		log:       NewLogSink(log),
	}
}

func (s *RedisSink) Orphan(ctx context.Context, a OrphanAlert) error {
	if s.window > 0 {
		first, err := s.rdb.SetNX(ctx, s.keyPrefix+a.JobID.String(), a.RaisedAt.UTC().Format(time.RFC3339), s.window).Result()
		if err != nil {
			// Better a duplicate alert than a lost one.
			s.log.log.Warn().Err(err).Str("job_id", a.JobID.String()).Msg("alert: dedupe check failed")
		} else if !first {
			return nil
		}
	}

	// The log line is the alert of record; publishing fans it out.
	_ = s.log.Orphan(ctx, a)

	a.AgeText = a.Age.Round(time.Second).String()
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
