package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gharbills/bill-tracker/internal/bill"
	"github.com/gharbills/bill-tracker/internal/scanning"
	"github.com/gharbills/bill-tracker/internal/store"
)

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// BillImage is one receipt image submitted for processing
type BillImage struct {
	Name        string
	Data        []byte
	ContentType string
}

// Result reports the outcome of processing one bill. Err, when set, is
// scanning.ErrServiceUnavailable (worth retrying) or
// scanning.ErrMalformedResponse (the image is unreadable).
type Result struct {
	Success      bool            `json:"success"`
	ItemsStored  int             `json:"items_stored"`
	ItemsDropped int             `json:"items_dropped"`
	Total        decimal.Decimal `json:"total"`
	Err          error           `json:"-"`
}

// BatchResult reports the outcome of processing several bills in one go
type BatchResult struct {
	ImagesSubmitted int             `json:"images_submitted"`
	ImagesExtracted int             `json:"images_extracted"`
	ItemsStored     int             `json:"items_stored"`
	ItemsDropped    int             `json:"items_dropped"`
	Total           decimal.Decimal `json:"total"`
}

// Service is the bill pipeline: extract, validate, normalize, persist. It
// also fronts the record store's read, update and delete operations for the
// CLI and dashboard.
type Service struct {
	store     store.Store
	extractor scanning.Extractor
	archive   Archive
	clock     Clock
}

// NewService creates a new Service with the system clock
func NewService(st store.Store, extractor scanning.Extractor, archive Archive) *Service {
	return NewServiceWithClock(st, extractor, archive, systemClock{})
}

// NewServiceWithClock creates a new Service with an injected clock for testing
func NewServiceWithClock(st store.Store, extractor scanning.Extractor, archive Archive, clock Clock) *Service {
	return &Service{
		store:     st,
		extractor: extractor,
		archive:   archive,
		clock:     clock,
	}
}

// ProcessBill extracts one receipt image and persists its line items. A
// single item's insert failure is logged and skipped; it never aborts the
// remaining items and nothing is rolled back.
func (s *Service) ProcessBill(ctx context.Context, img BillImage, person string) Result {
	canonical, err := s.extractBill(ctx, img)
	if err != nil {
		return Result{Err: err}
	}
	if len(canonical.Items) == 0 {
		return Result{ItemsDropped: canonical.Dropped}
	}

	s.archiveImage(img)

	stored := s.persistItems(ctx, canonical.Items, canonical.Date, person)
	return Result{
		Success:      stored > 0,
		ItemsStored:  stored,
		ItemsDropped: canonical.Dropped,
		Total:        canonical.TotalAmount,
	}
}

// ProcessBatch runs independent extractions for each image in submission
// order, concatenates the source-labelled items into one list, then persists
// them in a single pass. One image's failure never aborts the batch.
func (s *Service) ProcessBatch(ctx context.Context, imgs []BillImage, person string) BatchResult {
	result := BatchResult{ImagesSubmitted: len(imgs), Total: decimal.Zero}

	type datedItem struct {
		bill.LineItem
		date string
	}
	var items []datedItem

	for _, img := range imgs {
		canonical, err := s.extractBill(ctx, img)
		if err != nil {
			slog.Warn("Skipping image in batch", "image", img.Name, "error", err)
			continue
		}
		if len(canonical.Items) == 0 {
			slog.Warn("No items found in image", "image", img.Name)
			result.ItemsDropped += canonical.Dropped
			continue
		}

		s.archiveImage(img)

		result.ImagesExtracted++
		result.ItemsDropped += canonical.Dropped
		result.Total = result.Total.Add(canonical.TotalAmount)
		for _, item := range canonical.Items {
			item.Source = img.Name
			items = append(items, datedItem{LineItem: item, date: canonical.Date})
		}
	}

	// Shared persistence pass over the concatenated item list
	for _, item := range items {
		if _, err := s.insertItem(ctx, item.LineItem, item.date, person); err != nil {
			slog.Error("Failed to store line item", "item", item.Item, "source", item.Source, "error", err)
			continue
		}
		result.ItemsStored++
	}

	return result
}

// extractBill runs the extraction client and the structural gate, returning
// the normalized bill. A structurally invalid response is treated the same
// as a malformed one.
func (s *Service) extractBill(ctx context.Context, img BillImage) (*bill.Canonical, error) {
	raw, err := s.extractor.Extract(ctx, img.Data, img.ContentType)
	if err != nil {
		slog.Error("Extraction failed", "image", img.Name, "error", err)
		return nil, err
	}
	if !raw.StructurallyValid() {
		slog.Warn("Extraction failed structural validation", "image", img.Name)
		return nil, scanning.ErrMalformedResponse
	}
	return bill.Normalize(raw, s.clock.Now()), nil
}

func (s *Service) persistItems(ctx context.Context, items []bill.LineItem, date, person string) int {
	stored := 0
	for _, item := range items {
		if _, err := s.insertItem(ctx, item, date, person); err != nil {
			slog.Error("Failed to store line item", "item", item.Item, "error", err)
			continue
		}
		stored++
	}
	return stored
}

func (s *Service) insertItem(ctx context.Context, item bill.LineItem, date, person string) (string, error) {
	if strings.TrimSpace(person) == "" {
		person = bill.DefaultPerson
	}
	return s.store.Insert(ctx, &bill.Expenditure{
		Item:     item.Item,
		Quantity: item.Quantity,
		Date:     date,
		Amount:   item.Amount,
		Category: item.Category,
		Person:   person,
	})
}

func (s *Service) archiveImage(img BillImage) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Save(img.Name, img.Data); err != nil {
		slog.Warn("Failed to archive bill image", "image", img.Name, "error", err)
	}
}

// List returns all stored expenditures
func (s *Service) List(ctx context.Context) ([]*bill.Expenditure, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing expenditures: %w", err)
	}
	return records, nil
}

// ListRange returns expenditures within an inclusive date range. The bounds
// go through the same date parsing as everything else.
func (s *Service) ListRange(ctx context.Context, start, end string) ([]*bill.Expenditure, error) {
	now := s.clock.Now()
	records, err := s.store.ListByDateRange(ctx, bill.ParseDate(start, now), bill.ParseDate(end, now))
	if err != nil {
		return nil, fmt.Errorf("listing expenditures by range: %w", err)
	}
	return records, nil
}

// Get returns one expenditure by id
func (s *Service) Get(ctx context.Context, id string) (*bill.Expenditure, error) {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting expenditure: %w", err)
	}
	return record, nil
}

// Update replaces an expenditure, applying the same defaulting rules as the
// pipeline: date coerced through ParseDate, category through CoerceCategory,
// blank quantity and person defaulted. Returns false when the id is unknown.
func (s *Service) Update(ctx context.Context, id string, e *bill.Expenditure) (bool, error) {
	if e.Amount.IsNegative() {
		return false, fmt.Errorf("amount must not be negative")
	}

	record := *e
	record.Date = bill.ParseDate(record.Date, s.clock.Now())
	record.Category = bill.CoerceCategory(string(record.Category))
	if strings.TrimSpace(record.Quantity) == "" {
		record.Quantity = bill.DefaultQuantity
	}
	if strings.TrimSpace(record.Person) == "" {
		record.Person = bill.DefaultPerson
	}

	found, err := s.store.Update(ctx, id, &record)
	if err != nil {
		return false, fmt.Errorf("updating expenditure: %w", err)
	}
	return found, nil
}

// Delete removes an expenditure. Returns false when the id is unknown.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	found, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting expenditure: %w", err)
	}
	return found, nil
}

// SumByCategory totals stored amounts for one category, or for everything
// when category is empty.
func (s *Service) SumByCategory(ctx context.Context, category bill.Category) (decimal.Decimal, error) {
	total, err := s.store.SumByCategory(ctx, category)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing by category: %w", err)
	}
	return total, nil
}

// StoreVersion exposes the store's write counter for read-through caching
func (s *Service) StoreVersion(ctx context.Context) (uint64, error) {
	return s.store.Version(ctx)
}
