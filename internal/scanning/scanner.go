package scanning

import (
	"context"
	"errors"

	"github.com/gharbills/bill-tracker/internal/bill"
)

// ErrServiceUnavailable marks a transport-class failure: the model call
// itself failed (network, auth, quota, timeout) or returned nothing.
var ErrServiceUnavailable = errors.New("extraction service unavailable")

// ErrMalformedResponse marks a response that came back but did not contain
// a decodable extraction payload.
var ErrMalformedResponse = errors.New("malformed extraction response")

// Extractor turns one receipt image into a raw bill extraction.
//
// Implementations fail soft: on any error the returned extraction is the
// empty result (no items, zero total, dated today) alongside an error that
// is ErrServiceUnavailable or ErrMalformedResponse, so callers can
// distinguish "try again" from "unreadable image" while still always
// receiving something shaped like an extraction.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte, contentType string) (*bill.RawExtraction, error)
	Close() error
}
