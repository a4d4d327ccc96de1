// Package redisstore implements the metadata store port on Redis. Records
// are JSON values that Redis expires on its own at expires_at, rate counters
// are plain integers with a window TTL, and the removal feed is built from
// keyspace notifications so blob cleanup reacts to expiry with no polling.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"securedrop/internal/app"
	"securedrop/internal/domain"
)

const (
	fileKeyPrefix    = "file:"
	counterKeyPrefix = "ratelimit:"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is the Redis-backed metadata adapter. Safe for concurrent use.
type Store struct {
	rdb *redis.Client
	log *slog.Logger
}

// New connects to Redis and verifies the connection. It also best-effort
// enables keyspace notifications for expiry and delete events; managed Redis
// deployments that lock CONFIG need notify-keyspace-events to include at
// least "gxE" server-side.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if err := rdb.ConfigSet(ctx, "notify-keyspace-events", "gxE").Err(); err != nil {
		log.Warn("could not enable keyspace notifications", "err", err)
	}
	return &Store{rdb: rdb, log: log}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func fileKey(id domain.FileID) string { return fileKeyPrefix + id.String() }

// Put stores the record under file:<id> with the absolute expiry applied, so
// TTL reaping is done by Redis itself.
func (s *Store) Put(ctx context.Context, rec domain.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.SetArgs(ctx, fileKey(rec.ID), data, redis.SetArgs{
		ExpireAt: rec.ExpiresAt,
	}).Err()
}

// Get loads the record for id, reporting domain.ErrNotFound once Redis has
// expired or deleted the key.
func (s *Store) Get(ctx context.Context, id domain.FileID) (domain.FileRecord, error) {
	data, err := s.rdb.Get(ctx, fileKey(id)).Bytes()
	if err == redis.Nil {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FileRecord{}, err
	}
	var rec domain.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.FileRecord{}, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record and reports whether it existed. The keyspace
// "del" event this produces is what feeds the reaper.
func (s *Store) Delete(ctx context.Context, id domain.FileID) (bool, error) {
	n, err := s.rdb.Del(ctx, fileKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementCounter bumps the per-identity counter atomically. INCR creates
// the key at 1 on first use; EXPIRE NX pins the window only on that first
// increment so later requests cannot push the reset forward.
func (s *Store) IncrementCounter(ctx context.Context, identity string, window time.Duration) (int64, error) {
	key := counterKeyPrefix + identity
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Removals subscribes to keyspace notifications and emits one event per
// removed file record. Counter expiries and unrelated keys are filtered out
// by prefix; plain updates to live records never produce these events. The
// returned channel closes when ctx is cancelled.
func (s *Store) Removals(ctx context.Context) (<-chan app.RemovalEvent, error) {
	sub := s.rdb.PSubscribe(ctx,
		"__keyevent@*__:expired",
		"__keyevent@*__:del",
	)
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe keyspace events: %w", err)
	}

	out := make(chan app.RemovalEvent)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, ok := parseRemoval(msg.Channel, msg.Payload)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// parseRemoval turns one keyspace notification into a removal event. The
// payload is the affected key; the channel suffix says whether Redis expired
// it or a client deleted it.
func parseRemoval(channel, key string) (app.RemovalEvent, bool) {
	if !strings.HasPrefix(key, fileKeyPrefix) {
		return app.RemovalEvent{}, false
	}
	id, err := domain.ParseFileID(strings.TrimPrefix(key, fileKeyPrefix))
	if err != nil {
		return app.RemovalEvent{}, false
	}
	origin := app.RemovalDeleted
	if strings.HasSuffix(channel, ":expired") {
		origin = app.RemovalExpired
	}
	return app.RemovalEvent{ID: id, Origin: origin}, true
}
