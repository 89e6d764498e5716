package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var (
	_ registration.DispatchLedger = (*SQLite)(nil)
	_ Lister                      = (*SQLite)(nil)
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "sqlite"),
}

// SQLite is a ledger stored in a single SQLite file.
type SQLite struct {
	db     *sql.DB
	tracer trace.Tracer
}

// OpenSQLite opens (creating if needed) the ledger at path and applies the
// schema migrations. Every query is traced with tracer.
func OpenSQLite(path string, tracer trace.Tracer) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Waiter goroutines record outcomes concurrently; a single connection
	// serializes them instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, tracer: tracer}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not load migrations: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MarkDispatched records phone as handed out in runID. A phone dispatched in
// an earlier run is overwritten, returns to PENDING and is not launched.
func (s *SQLite) MarkDispatched(ctx context.Context, runID string, phone registration.PhoneNumber, at time.Time) error {
	const q = `
		INSERT INTO dispatches (phone, run_id, dispatched_at, launched_at, outcome, finished_at)
		VALUES (?, ?, ?, NULL, ?, NULL)
		ON CONFLICT (phone) DO UPDATE SET
			run_id = excluded.run_id,
			dispatched_at = excluded.dispatched_at,
			launched_at = NULL,
			outcome = excluded.outcome,
			finished_at = NULL`

	dbAttrs := append(phoneAttributes(phone), attribute.String("run_id", runID))
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.mark_dispatched", dbAttrs, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, q,
			phone.Number, runID, at.UTC().Format(timeFormat), string(registration.OutcomePending),
		); err != nil {
			return fmt.Errorf("mark %s dispatched: %w", phone.Number, err)
		}
		return nil
	})
}

// MarkLaunched records that the worker for phone started.
func (s *SQLite) MarkLaunched(ctx context.Context, phone registration.PhoneNumber, at time.Time) error {
	const q = `UPDATE dispatches SET launched_at = ? WHERE phone = ?`

	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.mark_launched", phoneAttributes(phone), func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, q, at.UTC().Format(timeFormat), phone.Number)
		if err != nil {
			return fmt.Errorf("mark %s launched: %w", phone.Number, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark %s launched: %w", phone.Number, err)
		}
		if n == 0 {
			return fmt.Errorf("mark %s launched: %w", phone.Number, ErrNotDispatched)
		}
		return nil
	})
}

// RecordOutcome stores the terminal outcome for phone.
func (s *SQLite) RecordOutcome(ctx context.Context, phone registration.PhoneNumber, outcome registration.Outcome, at time.Time) error {
	const q = `UPDATE dispatches SET outcome = ?, finished_at = ? WHERE phone = ?`

	dbAttrs := append(phoneAttributes(phone), attribute.String("outcome", string(outcome)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.record_outcome", dbAttrs, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, q, string(outcome), at.UTC().Format(timeFormat), phone.Number)
		if err != nil {
			return fmt.Errorf("record outcome for %s: %w", phone.Number, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record outcome for %s: %w", phone.Number, err)
		}
		if n == 0 {
			return fmt.Errorf("record outcome for %s: %w", phone.Number, ErrNotDispatched)
		}
		return nil
	})
}

// Consumed returns the set of phones whose worker started.
func (s *SQLite) Consumed(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.consumed", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT phone FROM dispatches WHERE launched_at IS NOT NULL`)
		if err != nil {
			return fmt.Errorf("query consumed phones: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var phone string
			if err := rows.Scan(&phone); err != nil {
				return fmt.Errorf("scan consumed phone: %w", err)
			}
			out[phone] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every entry ordered by dispatch time.
func (s *SQLite) List(ctx context.Context) ([]Entry, error) {
	const q = `
		SELECT phone, run_id, dispatched_at, launched_at, outcome, finished_at
		FROM dispatches
		ORDER BY dispatched_at, phone`

	var out []Entry
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.list", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return fmt.Errorf("query ledger: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e          Entry
				dispatched string
				launched   sql.NullString
				outcome    string
				finished   sql.NullString
			)
			if err := rows.Scan(&e.Phone, &e.RunID, &dispatched, &launched, &outcome, &finished); err != nil {
				return fmt.Errorf("scan ledger entry: %w", err)
			}
			if e.DispatchedAt, err = time.Parse(timeFormat, dispatched); err != nil {
				return fmt.Errorf("parse dispatched_at for %s: %w", e.Phone, err)
			}
			if launched.Valid {
				if e.LaunchedAt, err = time.Parse(timeFormat, launched.String); err != nil {
					return fmt.Errorf("parse launched_at for %s: %w", e.Phone, err)
				}
			}
			if finished.Valid {
				if e.FinishedAt, err = time.Parse(timeFormat, finished.String); err != nil {
					return fmt.Errorf("parse finished_at for %s: %w", e.Phone, err)
				}
			}
			e.Outcome = registration.ParseOutcome(outcome)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func phoneAttributes(phone registration.PhoneNumber) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+2)
	attrs = append(attrs, defaultDBAttributes...)
	return append(attrs, attribute.String("phone", phone.Number))
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
