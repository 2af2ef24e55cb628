package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSource reads bot events from a Redis Stream. A background reader
// blocks on XRead and buffers entries; Poll drains whatever has arrived.
type RedisSource struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger

	mu     sync.Mutex
	buf    []Event
	cancel context.CancelFunc
}

// NewRedisSource connects to Redis and starts reading the stream from
// its current tail.
func NewRedisSource(redisURL, stream string, logger *zap.Logger) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &RedisSource{rdb: rdb, stream: stream, logger: logger, cancel: cancel}
	go s.read(ctx)
	return s, nil
}

func (s *RedisSource) read(ctx context.Context) {
	// Pin the tail to a concrete ID so entries arriving between two
	// XRead calls are not skipped.
	lastID := "0"
	if info, err := s.rdb.XInfoStream(ctx, s.stream).Result(); err == nil {
		lastID = info.LastGeneratedID
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.stream, lastID},
			Count:   32,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					s.logger.Warn("stream entry without data field", zap.String("id", msg.ID))
					continue
				}
				var ev Event
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					s.logger.Warn("drop malformed stream event",
						zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				s.mu.Lock()
				s.buf = append(s.buf, ev)
				s.mu.Unlock()
			}
		}
	}
}

// Poll returns everything buffered since the previous call.
func (s *RedisSource) Poll(context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil, nil
	}
	out := s.buf
	s.buf = nil
	return out, nil
}

// Close stops the reader and closes the connection.
func (s *RedisSource) Close() error {
	s.cancel()
	return s.rdb.Close()
}

var _ Source = (*RedisSource)(nil)
