package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gharbills/bill-tracker/internal/bill"
)

// ollamaTimeout is longer than the Gemini timeout; local vision models can
// be slow.
const ollamaTimeout = 120 * time.Second

// Ollama implements the Extractor interface against a local Ollama server,
// for households that prefer not to send receipts to a cloud service.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	now     func() time.Time
}

// NewOllama creates a new Ollama Extractor instance. llava works well for
// receipts; qwen2-vl has better OCR on dense print.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client:  &http.Client{Timeout: ollamaTimeout},
		now:     time.Now,
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Images   []string        `json:"images,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Extract sends one receipt image to Ollama and decodes the reply. On any
// failure it returns the empty extraction together with a tagged error.
func (o *Ollama) Extract(ctx context.Context, imageData []byte, contentType string) (*bill.RawExtraction, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaTimeout)
	defer cancel()

	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading household bills and receipts. Carefully read all text in the image and extract every line item accurately.",
			},
			{
				Role:    "user",
				Content: billScanPrompt,
			},
		},
		Images: []string{base64.StdEncoding.EncodeToString(pngData)},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: marshaling request: %v", ErrServiceUnavailable, err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: creating request: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: calling ollama: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: ollama status %d: %s", ErrServiceUnavailable, resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: decoding response: %v", ErrMalformedResponse, err)
	}

	raw, err := decodeExtraction(chatResp.Message.Content)
	if err != nil {
		return bill.EmptyExtraction(o.now()), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return raw, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
