package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/mediscan/analysis-server/internal/domain"
)

// OCRClient talks to the document OCR service. The service accepts a report
// image and returns the recognized text together with the key/value pairs it
// managed to parse out of the tabular sections.
type OCRClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOCRClient creates a new document OCR client.
func NewOCRClient(config domain.OCRConfig) *OCRClient {
	rps := config.RateLimit
	if rps <= 0 {
		rps = 5
	}
	return &OCRClient{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// ocrResponse is the OCR service's wire format. Parsed values may arrive as
// JSON numbers or strings; LabValue's decoder handles both.
type ocrResponse struct {
	Text         string                     `json:"text"`
	Confidence   float64                    `json:"confidence"`
	ParsedValues map[string]domain.LabValue `json:"parsedValues"`
}

// ExtractText uploads the report image and returns the OCR result.
func (c *OCRClient) ExtractText(ctx context.Context, image []byte, labType domain.LabType) (*domain.OCRResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "report")
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	if err := writer.WriteField("labType", string(labType)); err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute OCR request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR service returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCR response: %w", err)
	}

	var parsed ocrResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse OCR response: %w", err)
	}

	if parsed.ParsedValues == nil {
		parsed.ParsedValues = map[string]domain.LabValue{}
	}

	return &domain.OCRResult{
		Text:         parsed.Text,
		Confidence:   parsed.Confidence,
		ParsedValues: parsed.ParsedValues,
	}, nil
}
