package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gharbills/bill-tracker/internal/bill"
)

// stripCodeFence removes one fenced code block wrapper from the model
// response, if present. Applying it to already-unwrapped text is a no-op.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// decodeExtraction locates the JSON object in a free-text model response and
// decodes it. Decoding is attempted once; there is no retry.
func decodeExtraction(text string) (*bill.RawExtraction, error) {
	text = stripCodeFence(text)

	// The model is asked for bare JSON but sometimes adds commentary around
	// it. Take the outermost object.
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw bill.RawExtraction
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling extraction: %w", err)
	}

	return &raw, nil
}
