package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store.
//
// Layout per thread:
//   - <prefix>latest:<thread>: hash with seq, status, pending, data, created_at
//   - <prefix>history:<thread>: list of JSON-encoded records in seq order
//   - <prefix>index: sorted set of thread ids scored by last update
//
// Save runs under WATCH on the latest hash and commits with MULTI/EXEC, so a
// concurrent writer on the same thread fails with ErrConflict and readers
// never see a half-written checkpoint.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets an expiration on every key of a thread, refreshed on each save.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to a Redis server.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	st := NewRedisStoreFromClient(rdb, opts...)
	st.owned = true
	return st
}

// NewRedisStoreFromClient wraps an existing client. Close does not close it.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	st := &RedisStore{
		client: client,
		prefix: "orcgraph:",
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

func (s *RedisStore) latestKey(threadID string) string {
	return s.prefix + "latest:" + threadID
}

func (s *RedisStore) historyKey(threadID string) string {
	return s.prefix + "history:" + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Save appends a checkpoint atomically.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	latest := s.latestKey(rec.ThreadID)
	history := s.historyKey(rec.ThreadID)

	err = s.client.Watch(ctx, func(tx *backend.Tx) error {
		cur, err := tx.HGet(ctx, latest, "seq").Int64()
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("failed to read latest sequence: %w", err)
		}
		if err == nil && cur >= rec.Seq {
			return fmt.Errorf("%w: thread %s seq %d <= %d", ErrConflict, rec.ThreadID, rec.Seq, cur)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.HSet(ctx, latest, map[string]any{
				"seq":        rec.Seq,
				"status":     rec.Status,
				"pending":    rec.Pending,
				"data":       string(rec.Data),
				"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			})
			pipe.RPush(ctx, history, encoded)
			if s.ttl > 0 {
				pipe.Expire(ctx, latest, s.ttl)
				pipe.Expire(ctx, history, s.ttl)
			}
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{
				Score:  float64(rec.CreatedAt.Unix()),
				Member: rec.ThreadID,
			})
			return nil
		})
		return err
	}, latest)

	if errors.Is(err, backend.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write on thread %s", ErrConflict, rec.ThreadID)
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// LoadLatest returns the newest checkpoint of the thread.
func (s *RedisStore) LoadLatest(ctx context.Context, threadID string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.latestKey(threadID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}

	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("corrupt sequence for thread %s: %w", threadID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return Record{}, fmt.Errorf("corrupt timestamp for thread %s: %w", threadID, err)
	}
	return Record{
		ThreadID:  threadID,
		Seq:       seq,
		Status:    fields["status"],
		Pending:   fields["pending"],
		Data:      json.RawMessage(fields["data"]),
		CreatedAt: created,
	}, nil
}

// Exists reports whether the thread has a checkpoint.
func (s *RedisStore) Exists(ctx context.Context, threadID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.latestKey(threadID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return n > 0, nil
}

// Pending reads the pending and status fields without fetching data.
func (s *RedisStore) Pending(ctx context.Context, threadID string) (string, string, error) {
	vals, err := s.client.HMGet(ctx, s.latestKey(threadID), "pending", "status").Result()
	if err != nil {
		return "", "", fmt.Errorf("failed to read pending node: %w", err)
	}
	status, ok := vals[1].(string)
	if !ok {
		return "", "", ErrNotFound
	}
	pending, _ := vals[0].(string)
	return pending, status, nil
}

// History returns all checkpoints of the thread in sequence order.
func (s *RedisStore) History(ctx context.Context, threadID string) ([]Record, error) {
	items, err := s.client.LRange(ctx, s.historyKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes the thread's keys and index entry.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.latestKey(threadID), s.historyKey(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	_, err := pipe.Exec(ctx)
	return err
}

// Threads lists thread ids ordered by most recent update.
func (s *RedisStore) Threads(ctx context.Context) ([]string, error) {
	return s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
