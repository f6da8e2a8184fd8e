package bill

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EmptyExtraction is the fail-soft extraction result: no items, zero total,
// dated now. The pipeline always receives something shaped like a
// RawExtraction, never a transport error.
func EmptyExtraction(now time.Time) *RawExtraction {
	return &RawExtraction{
		Items:       []RawLineItem{},
		TotalAmount: json.RawMessage("0"),
		Date:        now.Format(ISODate),
	}
}

// StructurallyValid reports whether the extraction passes the all-or-nothing
// structural gate: an items sequence must be present and every item must
// carry all four required keys. This is stricter than, and independent of,
// the per-item coercion done by Normalize.
func (r *RawExtraction) StructurallyValid() bool {
	if r == nil || r.Items == nil {
		return false
	}
	for _, item := range r.Items {
		if item.Item == nil || item.Quantity == nil || item.Amount == nil || item.Category == nil {
			return false
		}
	}
	return true
}

// ValidStructure is the byte-level form of the structural gate, usable as a
// pre-flight check on model output before committing to persistence. It is
// false when the payload is not a JSON object, when items is missing or not
// a sequence, or when any item lacks a required key.
func ValidStructure(data []byte) bool {
	var raw RawExtraction
	if err := json.Unmarshal(data, &raw); err != nil {
		return false
	}
	return raw.StructurallyValid()
}

// parseAmount coerces a raw JSON amount to a non-negative decimal. The model
// is asked for a bare numeric value; a quoted number is tolerated, anything
// else fails.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Zero, fmt.Errorf("amount missing")
	}
	s := string(bytes.TrimSpace(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not numeric", s)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s is negative", amount)
	}
	return amount, nil
}

// Normalize applies the defaulting and coercion rules to a raw extraction.
// Malformed line items are dropped with a warning; they never abort the
// bill. The date always resolves to a concrete calendar day, falling back
// to now.
func Normalize(raw *RawExtraction, now time.Time) *Canonical {
	canonical := &Canonical{
		Date:      ParseDate(raw.Date, now),
		StoreName: raw.StoreName,
		Items:     make([]LineItem, 0, len(raw.Items)),
	}

	if total, err := parseAmount(raw.TotalAmount); err == nil {
		canonical.TotalAmount = total
	}

	for i, item := range raw.Items {
		if item.Item == nil || strings.TrimSpace(*item.Item) == "" {
			slog.Warn("Dropping line item without a name", "index", i)
			canonical.Dropped++
			continue
		}

		amount, err := parseAmount(item.Amount)
		if err != nil {
			slog.Warn("Dropping line item", "index", i, "item", *item.Item, "error", err)
			canonical.Dropped++
			continue
		}

		quantity := DefaultQuantity
		if item.Quantity != nil && strings.TrimSpace(*item.Quantity) != "" {
			quantity = *item.Quantity
		}

		category := CategoryOther
		if item.Category != nil {
			category = CoerceCategory(*item.Category)
		}

		canonical.Items = append(canonical.Items, LineItem{
			Item:     *item.Item,
			Quantity: quantity,
			Amount:   amount,
			Category: category,
		})
	}

	return canonical
}
