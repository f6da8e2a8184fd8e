package bill

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the fixed set of expenditure categories
type Category string

const (
	CategoryGroceries    Category = "Groceries"
	CategorySnacks       Category = "Snacks"
	CategoryBeverages    Category = "Beverages"
	CategoryPersonalCare Category = "Personal Care"
	CategoryHousehold    Category = "Household"
	CategoryMedicine     Category = "Medicine"
	CategoryOther        Category = "Other"
)

// Categories lists all valid categories in display order
var Categories = []Category{
	CategoryGroceries,
	CategorySnacks,
	CategoryBeverages,
	CategoryPersonalCare,
	CategoryHousehold,
	CategoryMedicine,
	CategoryOther,
}

// ValidCategory reports whether c is one of the known categories
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// CoerceCategory maps any unknown category value to Other
func CoerceCategory(s string) Category {
	c := Category(s)
	if ValidCategory(c) {
		return c
	}
	return CategoryOther
}

const (
	// DefaultQuantity is used when a line item has no quantity
	DefaultQuantity = "1 piece"

	// DefaultPerson is used when no purchaser is attributed
	DefaultPerson = "Unknown"
)

// Expenditure is one persisted line item from a bill
type Expenditure struct {
	ID        string          `json:"id"`
	Item      string          `json:"item"`
	Quantity  string          `json:"quantity"`
	Date      string          `json:"date"` // ISO 8601, YYYY-MM-DD
	Amount    decimal.Decimal `json:"amount"`
	Category  Category        `json:"category"`
	Person    string          `json:"person"`
	CreatedAt time.Time       `json:"created_at"`
}

// RawLineItem is one line item as decoded from the model response.
// Fields are pointers or raw JSON so that a missing key is distinguishable
// from an empty value.
type RawLineItem struct {
	Item     *string         `json:"item"`
	Quantity *string         `json:"quantity"`
	Amount   json.RawMessage `json:"amount"`
	Category *string         `json:"category"`
}

// RawExtraction is the model's decoded response. It is never persisted;
// it is consumed once by Normalize and discarded.
type RawExtraction struct {
	Items       []RawLineItem   `json:"items"`
	TotalAmount json.RawMessage `json:"total_amount"`
	Date        string          `json:"date"`
	StoreName   string          `json:"store_name"`
}

// LineItem is a normalized line item, ready for persistence
type LineItem struct {
	Item     string
	Quantity string
	Amount   decimal.Decimal
	Category Category
	Source   string // image label, set during batch processing
}

// Canonical is a bill after defaulting and coercion rules have been applied
type Canonical struct {
	Items       []LineItem
	TotalAmount decimal.Decimal // model-reported, display only
	Date        string          // always a concrete YYYY-MM-DD
	StoreName   string
	Dropped     int // line items rejected during normalization
}
