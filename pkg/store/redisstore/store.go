// Package redisstore persists transcripts in Redis. Each conversation
// is a list of JSON-encoded turns; RPUSH keeps append order and a TTL
// lets abandoned conversations age out.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetline-ai/meetline/pkg/core/transcript"
)

const keyPrefix = "meetline:transcript:"

// Store implements transcript.Store on a Redis list per conversation.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to the Redis instance at addr. A zero ttl keeps
// transcripts forever.
func New(ctx context.Context, addr string, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

// Close releases the client's connections.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func key(conversationID string) string {
	return keyPrefix + conversationID
}

// Append implements transcript.Store. The TTL is reset on every append
// so it measures inactivity, not conversation age.
func (s *Store) Append(ctx context.Context, conversationID string, turn transcript.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key(conversationID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key(conversationID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Turns implements transcript.Store.
func (s *Store) Turns(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	items, err := s.rdb.LRange(ctx, key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	turns := make([]transcript.Turn, 0, len(items))
	for _, item := range items {
		var turn transcript.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
