// Package sqlite is the embedded durable store used when no Postgres URL is
// configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hystdevtv/pear/internal/models"
	"github.com/hystdevtv/pear/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id        TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL DEFAULT '',
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	address        TEXT NOT NULL DEFAULT '',
	plz            TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	source_subject TEXT NOT NULL DEFAULT '',
	source_sender  TEXT NOT NULL DEFAULT '',
	raw_extraction TEXT,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(email);
`

type CustomerStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file at path and applies the
// connection pragmas.
func Open(path string) (*CustomerStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite exec %s: %w", pragma, err)
		}
	}
	return &CustomerStore{db: db, now: time.Now}, nil
}

func (s *CustomerStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *CustomerStore) Close() error {
	return s.db.Close()
}

func (s *CustomerStore) InsertCustomer(ctx context.Context, rec models.CustomerRecord) (bool, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var raw any
	if len(rec.RawExtraction) > 0 {
		raw = string(rec.RawExtraction)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (case_id, name, first_name, last_name, email, phone, address, plz, city, source_subject, source_sender, raw_extraction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(case_id) DO NOTHING`,
		rec.CaseID, rec.Name, rec.FirstName, rec.LastName, rec.Email, rec.Phone,
		rec.Address, rec.PLZ, rec.City, rec.SourceSubject, rec.SourceSender, raw,
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *CustomerStore) GetCustomerByCaseID(ctx context.Context, caseID string) (*models.CustomerRecord, error) {
	rec := &models.CustomerRecord{}
	var raw sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, name, first_name, last_name, email, phone, address, plz, city, source_subject, source_sender, raw_extraction, created_at
		 FROM customers WHERE case_id = ?`, caseID,
	).Scan(
		&rec.ID, &rec.CaseID, &rec.Name, &rec.FirstName, &rec.LastName, &rec.Email, &rec.Phone,
		&rec.Address, &rec.PLZ, &rec.City, &rec.SourceSubject, &rec.SourceSender, &raw, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if raw.Valid {
		rec.RawExtraction = []byte(raw.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = t
	}
	return rec, nil
}

func (s *CustomerStore) CountCustomers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n)
	return n, err
}
