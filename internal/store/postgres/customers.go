package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hystdevtv/pear/internal/models"
	"github.com/hystdevtv/pear/internal/store"
)

type CustomerStore struct {
	db *sql.DB
}

func NewCustomerStore(db *sql.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

func (s *CustomerStore) InsertCustomer(ctx context.Context, rec models.CustomerRecord) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO customers (case_id, name, first_name, last_name, email, phone, address, plz, city, source_subject, source_sender, raw_extraction)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)
		 ON CONFLICT (case_id) DO NOTHING
		 RETURNING id`,
		rec.CaseID, rec.Name, rec.FirstName, rec.LastName, rec.Email, rec.Phone,
		rec.Address, rec.PLZ, rec.City, rec.SourceSubject, rec.SourceSender, jsonOrNull(rec.RawExtraction),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *CustomerStore) GetCustomerByCaseID(ctx context.Context, caseID string) (*models.CustomerRecord, error) {
	rec := &models.CustomerRecord{}
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, name, first_name, last_name, email, phone, address, plz, city, source_subject, source_sender, raw_extraction, created_at
		 FROM customers WHERE case_id = $1`, caseID,
	).Scan(
		&rec.ID, &rec.CaseID, &rec.Name, &rec.FirstName, &rec.LastName, &rec.Email, &rec.Phone,
		&rec.Address, &rec.PLZ, &rec.City, &rec.SourceSubject, &rec.SourceSender, &raw, &rec.CreatedAt,
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
	return rec, nil
}

func (s *CustomerStore) CountCustomers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n)
	return n, err
}

func jsonOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
