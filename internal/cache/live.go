// Package cache mirrors the newest measurement per entity into Redis so
// dashboards can read current values without scanning storage.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "measurement:latest:"
	maxRetries = 3
)

type entry struct {
	CreatedAtMs int64           `json:"createdAtMs"`
	Data        json.RawMessage `json:"data"`
}

type Live struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewLive(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{rdb: rdb, ttl: ttl, logger: logger}
}

// Connect builds a client for addr and verifies it answers.
func Connect(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Live, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewLive(rdb, ttl, logger), nil
}

func Key(kind string) string { return keyPrefix + kind }

// Put stores v as the latest value for entityID unless a newer one is
// already cached.
func (l *Live) Put(ctx context.Context, kind, entityID string, createdAt time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, entityID, err)
	}
	encoded, err := json.Marshal(entry{CreatedAtMs: createdAt.UnixMilli(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, entityID, err)
	}
	key := Key(kind)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, entityID).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && !isNewer(createdAt.UnixMilli(), cur) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, entityID, encoded)
			if l.ttl > 0 {
				p.Expire(ctx, key, l.ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err = l.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			if err != nil {
				return fmt.Errorf("cache put %s %q: %w", kind, entityID, err)
			}
			return nil
		}
	}
	return fmt.Errorf("cache put %s %q: %w", kind, entityID, err)
}

// All returns the cached values for kind ordered by entity id.
func (l *Live) All(ctx context.Context, kind string) ([]json.RawMessage, error) {
	m, err := l.rdb.HGetAll(ctx, Key(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", kind, err)
	}
	return decodeEntries(m, l.logger), nil
}

func (l *Live) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *Live) Close() error {
	return l.rdb.Close()
}

func isNewer(createdAtMs int64, current []byte) bool {
	var e entry
	if err := json.Unmarshal(current, &e); err != nil {
		return true
	}
	return createdAtMs >= e.CreatedAtMs
}

func decodeEntries(m map[string]string, logger *slog.Logger) []json.RawMessage {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		var e entry
		if err := json.Unmarshal([]byte(m[id]), &e); err != nil {
			logger.Warn("skipping malformed cache entry", "entity", id, "error", err)
			continue
		}
		out = append(out, e.Data)
	}
	return out
}
