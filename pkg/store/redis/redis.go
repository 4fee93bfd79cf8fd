package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lzyats/airship-go/pkg/airship"
)

type Store struct {
	cli       *redis.Client
	queueKey  string
	keyPrefix string
}

func New(cfg airship.RedisSettings, col airship.CollectorSettings) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis: missing host: %w", airship.ErrNotConfigured)
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return NewWithClient(redis.NewClient(opts), col), nil
}

// NewWithClient wraps an existing client; empty key settings fall back to defaults.
func NewWithClient(cli *redis.Client, col airship.CollectorSettings) *Store {
	s := &Store{cli: cli, queueKey: col.QueueKey, keyPrefix: col.KeyPrefix}
	if s.queueKey == "" {
		s.queueKey = "airship:perpush:queue"
	}
	if s.keyPrefix == "" {
		s.keyPrefix = "airship:perpush"
	}
	return s
}

func (s *Store) Close() error { return s.cli.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx).Err() }

/*
Keys:
  - {queue-key} (LIST, LPUSH in, BRPOP out)
  - {prefix}:detail:{push_id}
  - {prefix}:series:{push_id}:{precision}
*/
func (s *Store) detailKey(pushID string) string {
	return fmt.Sprintf("%s:detail:%s", s.keyPrefix, pushID)
}

func (s *Store) seriesKey(pushID, precision string) string {
	if precision == "" {
		precision = "DEFAULT"
	}
	return fmt.Sprintf("%s:series:%s:%s", s.keyPrefix, pushID, precision)
}

func (s *Store) Enqueue(ctx context.Context, pushIDs ...string) error {
	if len(pushIDs) == 0 {
		return nil
	}
	return s.cli.LPush(ctx, s.queueKey, toArgs(pushIDs)...).Err()
}

// Requeue puts ids back at the consuming end so they are popped next.
func (s *Store) Requeue(ctx context.Context, pushIDs ...string) error {
	if len(pushIDs) == 0 {
		return nil
	}
	return s.cli.RPush(ctx, s.queueKey, toArgs(pushIDs)...).Err()
}

// Pop blocks for up to block to pop a single push id.
// It uses BRPOP so that multiple collectors can share the same queue.
func (s *Store) Pop(ctx context.Context, block time.Duration) (string, error) {
	if block <= 0 {
		block = 5 * time.Second
	}
	res, err := s.cli.BRPop(ctx, block, s.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}

func (s *Store) SaveDetail(ctx context.Context, pushID string, payload []byte, ttl time.Duration) error {
	if pushID == "" {
		return airship.ValidationError("save_detail", "push id must not be empty")
	}
	return s.cli.Set(ctx, s.detailKey(pushID), payload, ttl).Err()
}

func (s *Store) GetDetail(ctx context.Context, pushID string) ([]byte, bool, error) {
	return s.get(ctx, s.detailKey(pushID))
}

func (s *Store) SaveSeries(ctx context.Context, pushID, precision string, payload []byte, ttl time.Duration) error {
	if pushID == "" {
		return airship.ValidationError("save_series", "push id must not be empty")
	}
	return s.cli.Set(ctx, s.seriesKey(pushID, precision), payload, ttl).Err()
}

func (s *Store) GetSeries(ctx context.Context, pushID, precision string) ([]byte, bool, error) {
	return s.get(ctx, s.seriesKey(pushID, precision))
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.cli.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func toArgs(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
