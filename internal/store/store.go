package store

import (
	"context"
	"errors"

	"github.com/hystdevtv/pear/internal/models"
)

var ErrNotFound = errors.New("record not found")

// CustomerStore persists finalized customer records. InsertCustomer is
// idempotent on the case ID: inserting the same case twice reports
// inserted=false without an error.
type CustomerStore interface {
	InsertCustomer(ctx context.Context, rec models.CustomerRecord) (inserted bool, err error)
	GetCustomerByCaseID(ctx context.Context, caseID string) (*models.CustomerRecord, error)
	CountCustomers(ctx context.Context) (int, error)
}
