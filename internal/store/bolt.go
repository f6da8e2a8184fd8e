package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"

	"github.com/gharbills/bill-tracker/internal/bill"
)

const (
	expenditureBucket = "expenditures"
	metaBucket        = "meta"
)

var versionKey = []byte("version")

// Bolt implements the Store interface using bbolt, one JSON-encoded record
// per UUID key.
type Bolt struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBolt creates a new Bolt store instance
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(expenditureBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Bolt{db: db, now: time.Now}, nil
}

// bumpVersion increments the write counter inside the caller's transaction
func bumpVersion(tx *bbolt.Tx) error {
	meta := tx.Bucket([]byte(metaBucket))
	version := uint64(0)
	if data := meta.Get(versionKey); data != nil {
		version = binary.BigEndian.Uint64(data)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version+1)
	return meta.Put(versionKey, buf)
}

// Insert persists a record under a fresh UUID
func (b *Bolt) Insert(_ context.Context, e *bill.Expenditure) (string, error) {
	record := *e
	record.ID = uuid.NewString()
	record.CreatedAt = b.now()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenditureBucket))
		data, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling expenditure: %w", err)
		}
		if err := bucket.Put([]byte(record.ID), data); err != nil {
			return err
		}
		return bumpVersion(tx)
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// Get retrieves a record by id
func (b *Bolt) Get(_ context.Context, id string) (*bill.Expenditure, error) {
	var record *bill.Expenditure
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenditureBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expenditure not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListAll returns every record, date descending then creation descending
func (b *Bolt) ListAll(ctx context.Context) ([]*bill.Expenditure, error) {
	return b.list(ctx, func(*bill.Expenditure) bool { return true })
}

// ListByDateRange returns records with start <= date <= end
func (b *Bolt) ListByDateRange(ctx context.Context, start, end string) ([]*bill.Expenditure, error) {
	return b.list(ctx, func(e *bill.Expenditure) bool {
		return e.Date >= start && e.Date <= end
	})
}

func (b *Bolt) list(_ context.Context, keep func(*bill.Expenditure) bool) ([]*bill.Expenditure, error) {
	records := make([]*bill.Expenditure, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenditureBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var record bill.Expenditure
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling expenditure: %w", err)
			}
			if keep(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortExpenditures(records)
	return records, nil
}

// Update replaces the record with the given id, preserving its id and
// creation time
func (b *Bolt) Update(_ context.Context, id string, e *bill.Expenditure) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenditureBucket))
		existing := bucket.Get([]byte(id))
		if existing == nil {
			return nil
		}
		var prev bill.Expenditure
		if err := json.Unmarshal(existing, &prev); err != nil {
			return fmt.Errorf("unmarshaling expenditure: %w", err)
		}

		record := *e
		record.ID = id
		record.CreatedAt = prev.CreatedAt
		data, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling expenditure: %w", err)
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return err
		}
		found = true
		return bumpVersion(tx)
	})
	return found, err
}

// Delete removes the record with the given id
func (b *Bolt) Delete(_ context.Context, id string) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenditureBucket))
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		found = true
		return bumpVersion(tx)
	})
	return found, err
}

// SumByCategory totals amounts for one category, or all when empty
func (b *Bolt) SumByCategory(ctx context.Context, category bill.Category) (decimal.Decimal, error) {
	records, err := b.list(ctx, func(e *bill.Expenditure) bool {
		return category == "" || e.Category == category
	})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.Amount)
	}
	return total, nil
}

// Version returns the current write counter
func (b *Bolt) Version(_ context.Context) (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(metaBucket)).Get(versionKey); data != nil {
			version = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return version, err
}

// Close closes the database connection
func (b *Bolt) Close() error {
	return b.db.Close()
}
