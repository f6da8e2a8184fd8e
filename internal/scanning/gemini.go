package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/gharbills/bill-tracker/internal/bill"
)

// extractTimeout bounds the round trip to the model service. A timeout
// surfaces as ErrServiceUnavailable rather than hanging the pipeline.
const extractTimeout = 30 * time.Second

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	now    func() time.Time
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
		now:    time.Now,
	}, nil
}

// Extract sends one receipt image to Gemini and decodes the reply. On any
// failure it returns the empty extraction together with a tagged error.
func (g *Gemini) Extract(ctx context.Context, imageData []byte, contentType string) (*bill.RawExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return bill.EmptyExtraction(g.now()), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(billScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		slog.Error("Gemini call failed", "error", err)
		return bill.EmptyExtraction(g.now()), fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return bill.EmptyExtraction(g.now()), fmt.Errorf("%w: empty response", ErrServiceUnavailable)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	raw, err := decodeExtraction(responseText.String())
	if err != nil {
		slog.Warn("Undecodable Gemini response", "error", err, "response", responseText.String())
		return bill.EmptyExtraction(g.now()), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return raw, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
