// Package sqlstore implements store.Store on database/sql for PostgreSQL
// (lib/pq) and SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/internal/store"
)

// Config describes the process-wide connection pool.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a store.Store over one shared *sql.DB pool. Open it once at
// startup and Close it at shutdown.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the source of created_at and occurred_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects, verifies the connection and bootstraps the schema.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	db, err := sql.Open(d.driverName, cfg.DSN)
	if err != nil {
		return nil, store.Wrap("open database", err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{db: db, dialect: d, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlstore", "driver", string(cfg.Driver))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Wrap("connect to database", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("record store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return store.Wrap("bootstrap schema", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceAll deletes every lead and inserts leads in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, leads []lead.Lead) (err error) {
	const op = "replace leads"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM leads`); err != nil {
		return store.Wrap(op, err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(
		`INSERT INTO leads (name, company, industry, size, source, summary, lead_quality, enrichment_status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return store.Wrap(op, err)
	}
	defer stmt.Close()

	createdAt := s.now().UTC()
	for _, l := range leads {
		status := l.EnrichmentStatus
		if status == "" {
			status = l.DeriveStatus()
		}
		var quality sql.NullString
		if l.LeadQuality != nil {
			quality = sql.NullString{String: string(*l.LeadQuality), Valid: true}
		}
		var summary sql.NullString
		if l.Summary != nil {
			summary = sql.NullString{String: *l.Summary, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			l.Name, l.Company, l.Industry, l.Size, l.Source,
			summary, quality, string(status), createdAt,
		); err != nil {
			return store.Wrap(op, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return store.Wrap(op, err)
	}
	s.logger.Info("leads replaced", "count", len(leads))
	return nil
}

func (s *Store) Query(ctx context.Context, f store.Filter) ([]lead.Lead, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	const op = "query leads"

	var (
		where []string
		args  []any
	)
	if f.Industry != "" {
		where = append(where, "industry = ?")
		args = append(args, f.Industry)
	}
	if f.MinSize != nil {
		where = append(where, "size >= ?")
		args = append(args, *f.MinSize)
	}
	if f.MaxSize != nil {
		where = append(where, "size <= ?")
		args = append(args, *f.MaxSize)
	}
	q := `SELECT id, name, company, industry, size, source, summary, lead_quality, enrichment_status, created_at FROM leads`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	defer rows.Close()

	out := make([]lead.Lead, 0)
	for rows.Next() {
		var (
			l       lead.Lead
			summary sql.NullString
			quality sql.NullString
			status  string
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Company, &l.Industry, &l.Size, &l.Source, &summary, &quality, &status, &l.CreatedAt); err != nil {
			return nil, store.Wrap(op, err)
		}
		if summary.Valid {
			v := summary.String
			l.Summary = &v
		}
		if quality.Valid {
			if q, ok := lead.ParseQuality(quality.String); ok {
				l.LeadQuality = &q
			}
		}
		l.EnrichmentStatus = lead.Status(status)
		l.CreatedAt = l.CreatedAt.UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(op, err)
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, e lead.Event) (lead.Event, error) {
	const op = "append event"
	var metadata sql.NullString
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return lead.Event{}, store.Wrap(op, err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	e.OccurredAt = s.now().UTC()

	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`INSERT INTO events (user_id, action, metadata, occurred_at) VALUES (?, ?, ?, ?) RETURNING id`),
		e.UserID, e.Action, metadata, e.OccurredAt,
	).Scan(&e.ID)
	if err != nil {
		return lead.Event{}, store.Wrap(op, err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]lead.Event, error) {
	const op = "list events"
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, action, metadata, occurred_at FROM events ORDER BY id`)
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	defer rows.Close()

	out := make([]lead.Event, 0)
	for rows.Next() {
		var (
			e        lead.Event
			metadata sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &metadata, &e.OccurredAt); err != nil {
			return nil, store.Wrap(op, err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, store.Wrap(op, fmt.Errorf("decode metadata for event %d: %w", e.ID, err))
			}
		}
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(op, err)
	}
	return out, nil
}
