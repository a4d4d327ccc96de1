// Package postgres implements the metadata store port on PostgreSQL for
// deployments that want SQL durability instead of Redis. Reads hide rows
// past expires_at, a periodic sweep physically reaps them, and every row
// removal (sweep or explicit) is published on the removal feed consumed by
// the reaper.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"securedrop/internal/app"
	"securedrop/internal/domain"
)

// Config holds the connection and sweep settings.
type Config struct {
	DSN           string
	SweepInterval time.Duration
	SweepBatch    int
}

// Store is the PostgreSQL-backed metadata adapter. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	events chan app.RemovalEvent
	batch  int
	every  time.Duration
}

// New opens a pgx connection pool, validates connectivity, and prepares the
// removal feed. Call Run to start the TTL sweep.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		log: log,
		// Buffered so bursts of expiries do not stall deletes.
		events: make(chan app.RemovalEvent, 256),
		batch:  cfg.SweepBatch,
		every:  cfg.SweepInterval,
	}, nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Put persists the record. Ids are never reused, so a plain insert suffices.
func (s *Store) Put(ctx context.Context, rec domain.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, nonce, filename, content_type, expires_at, destroy_on_download)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID.String(), rec.Nonce, rec.Filename, rec.ContentType, rec.ExpiresAt, rec.DestroyOnDownload)
	return err
}

// Get loads the record for id. Rows past expires_at read as absent even
// before the sweep reaps them.
func (s *Store) Get(ctx context.Context, id domain.FileID) (domain.FileRecord, error) {
	var rec domain.FileRecord
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nonce, filename, content_type, expires_at, destroy_on_download
		FROM files
		WHERE id = $1 AND expires_at > now()
	`, id.String()).Scan(&idStr, &rec.Nonce, &rec.Filename, &rec.ContentType, &rec.ExpiresAt, &rec.DestroyOnDownload)
	if err == sql.ErrNoRows {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FileRecord{}, err
	}
	rec.ID = domain.FileID(idStr)
	return rec, nil
}

// Delete removes the row and publishes the removal with the deleted origin.
func (s *Store) Delete(ctx context.Context, id domain.FileID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	s.publish(app.RemovalEvent{ID: id, Origin: app.RemovalDeleted})
	return true, nil
}

// IncrementCounter creates or bumps the per-identity counter in one
// statement. The upsert handles window rollover atomically: a counter whose
// window passed restarts at 1 with a fresh window, otherwise the count rises
// and the window stays pinned.
func (s *Store) IncrementCounter(ctx context.Context, identity string, window time.Duration) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_counters (identity, count, window_expires_at)
		VALUES ($1, 1, now() + make_interval(secs => $2))
		ON CONFLICT (identity) DO UPDATE SET
			count = CASE WHEN rate_counters.window_expires_at <= now()
				THEN 1 ELSE rate_counters.count + 1 END,
			window_expires_at = CASE WHEN rate_counters.window_expires_at <= now()
				THEN now() + make_interval(secs => $2)
				ELSE rate_counters.window_expires_at END
		RETURNING count
	`, identity, window.Seconds()).Scan(&count)
	return count, err
}

// Removals returns the feed of removed records.
func (s *Store) Removals(context.Context) (<-chan app.RemovalEvent, error) {
	return s.events, nil
}

// Run drives the TTL sweep until ctx is cancelled. Each cycle reaps a
// bounded batch of expired file rows, publishing one expired-origin event
// per row, and drops stale rate counters.
func (s *Store) Run(ctx context.Context) {
	s.log.Info("ttl sweep started", "interval", s.every, "batch", s.batch)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("ttl sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Store) sweep(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM files
		WHERE id IN (
			SELECT id FROM files WHERE expires_at <= now()
			ORDER BY expires_at ASC
			LIMIT $1
		)
		RETURNING id
	`, s.batch)
	if err != nil {
		s.log.Error("sweep query failed", "err", err)
		return
	}
	defer rows.Close()

	reaped := 0
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			s.log.Error("sweep scan failed", "err", err)
			return
		}
		id, err := domain.ParseFileID(idStr)
		if err != nil {
			s.log.Error("sweep found malformed id", "id", idStr)
			continue
		}
		s.publish(app.RemovalEvent{ID: id, Origin: app.RemovalExpired})
		reaped++
	}
	if err := rows.Err(); err != nil {
		s.log.Error("sweep rows failed", "err", err)
	}
	if reaped > 0 {
		s.log.Info("expired records reaped", "count", reaped)
	}

	// Stale counters expire quietly; they have no blob to clean up.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_counters WHERE window_expires_at <= now()`); err != nil {
		s.log.Error("counter sweep failed", "err", err)
	}
}

// publish never blocks the caller. A dropped event leaves an orphaned blob;
// the record is already gone, so the blob is unreachable through the API.
func (s *Store) publish(ev app.RemovalEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("removal feed full, dropping event", "file_id", ev.ID, "origin", ev.Origin)
	}
}
