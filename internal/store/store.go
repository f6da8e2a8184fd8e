package store

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/gharbills/bill-tracker/internal/bill"
)

// Store is the record store the pipeline and both UIs depend on. The two
// backends (Bolt, SQLite) are interchangeable behind it.
//
// Listing operations return records sorted by date descending, then
// creation time descending. Dates cross this boundary as YYYY-MM-DD
// strings. Each write is individually atomic; there are no multi-row
// transactions across a batch.
type Store interface {
	// Insert persists a record and returns its store-assigned id.
	Insert(ctx context.Context, e *bill.Expenditure) (string, error)

	// Get retrieves a record by id.
	Get(ctx context.Context, id string) (*bill.Expenditure, error)

	// ListAll returns every record.
	ListAll(ctx context.Context) ([]*bill.Expenditure, error)

	// ListByDateRange returns records with start <= date <= end.
	ListByDateRange(ctx context.Context, start, end string) ([]*bill.Expenditure, error)

	// Update replaces the record with the given id. Returns false when the
	// id is unknown.
	Update(ctx context.Context, id string, e *bill.Expenditure) (bool, error)

	// Delete removes the record with the given id. Returns false when the
	// id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	// SumByCategory totals amounts for one category, or for all records
	// when category is empty.
	SumByCategory(ctx context.Context, category bill.Category) (decimal.Decimal, error)

	// Version returns a monotonic token bumped on every successful write.
	// Readers cache list results against it instead of invalidating flags.
	Version(ctx context.Context) (uint64, error)

	// Close closes the store.
	Close() error
}

// sortExpenditures orders records by date descending, breaking ties on
// creation time descending.
func sortExpenditures(records []*bill.Expenditure) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
