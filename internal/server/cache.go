package server

import (
	"context"
	"sync"

	"github.com/gharbills/bill-tracker/internal/bill"
	"github.com/gharbills/bill-tracker/internal/tracker"
)

// listCache is a read-through cache for the unfiltered expenditure list,
// keyed by the store's version token. The pipeline bumps the token on every
// successful write, so a stale cache is detected by comparing tokens rather
// than by invalidation flags.
type listCache struct {
	mu      sync.Mutex
	version uint64
	valid   bool
	records []*bill.Expenditure
}

func (c *listCache) get(ctx context.Context, service *tracker.Service) ([]*bill.Expenditure, error) {
	version, err := service.StoreVersion(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.version == version {
		return c.records, nil
	}

	records, err := service.List(ctx)
	if err != nil {
		return nil, err
	}
	c.version = version
	c.valid = true
	c.records = records
	return records, nil
}
