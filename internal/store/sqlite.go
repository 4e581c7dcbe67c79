package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/route"
)

// SQLiteStore persists event records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and initializes
// the schema. WAL mode keeps concurrent pipeline runs from serializing on
// the file lock.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writes are serialized by SQLite anyway; keep the pool small.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		date DATETIME,
		date_known INTEGER NOT NULL,
		location TEXT,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL,
		series_id TEXT,
		session_index INTEGER NOT NULL,
		total_sessions INTEGER NOT NULL,
		recurrence TEXT,
		decision TEXT NOT NULL,
		decision_reason TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_series_id ON events(series_id);
	CREATE INDEX IF NOT EXISTS idx_events_decision ON events(decision);
	CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save writes every record of one pipeline run in a single transaction,
// tagged with the routing decision that admitted it.
func (s *SQLiteStore) Save(ctx context.Context, records []event.EventRecord, decision route.Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events
		(id, title, date, date_known, location, description, category, source,
		 confidence, series_id, session_index, total_sessions, recurrence,
		 decision, decision_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	for _, r := range records {
		var date interface{}
		dateKnown := 0
		if r.DateKnown {
			date = r.Date.UTC()
			dateKnown = 1
		}

		if _, err := tx.ExecContext(ctx, query,
			uuid.NewString(),
			r.Title,
			date,
			dateKnown,
			r.Location,
			r.Description,
			string(r.Category),
			r.Source,
			r.Confidence,
			r.Series.SeriesID,
			r.Series.SessionIndex,
			r.Series.TotalSessions,
			r.Series.Recurrence,
			string(decision.Outcome),
			decision.Reason,
			now,
		); err != nil {
			return fmt.Errorf("failed to save record %q: %w", r.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListBySeries returns the records of one series ordered by session index.
func (s *SQLiteStore) ListBySeries(ctx context.Context, seriesID string) ([]event.EventRecord, error) {
	query := `
		SELECT title, date, date_known, location, description, category, source,
		       confidence, series_id, session_index, total_sessions, recurrence
		FROM events WHERE series_id = ? ORDER BY session_index
	`

	rows, err := s.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	records := make([]event.EventRecord, 0)
	for rows.Next() {
		var r event.EventRecord
		var date sql.NullTime
		var dateKnown int
		if err := rows.Scan(
			&r.Title,
			&date,
			&dateKnown,
			&r.Location,
			&r.Description,
			&r.Category,
			&r.Source,
			&r.Confidence,
			&r.Series.SeriesID,
			&r.Series.SessionIndex,
			&r.Series.TotalSessions,
			&r.Series.Recurrence,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if date.Valid && dateKnown == 1 {
			r.Date = date.Time
			r.DateKnown = true
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// New builds a Store from config. An explicit dry-run flag wins over the
// driver choice so preview mode never touches the database.
func New(cfg Config) (Store, error) {
	if cfg.DryRun || cfg.Driver == "dryrun" {
		return NewDryRunStore(), nil
	}
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "eventd.db"
		}
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

var _ Store = (*SQLiteStore)(nil)
