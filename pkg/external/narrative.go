package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/mediscan/analysis-server/internal/domain"
)

// NarrativeClient talks to the narrative generation service, which turns a
// report's values and raw prediction into a per-parameter clinical breakdown,
// specialist referrals and an explanation in plain language. The narrative
// text is passed through to the caller unmodified.
type NarrativeClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewNarrativeClient creates a new narrative generation client.
func NewNarrativeClient(config domain.NarrativeConfig) *NarrativeClient {
	rps := config.RateLimit
	if rps <= 0 {
		rps = 2
	}
	return &NarrativeClient{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

type narrativeRequest struct {
	LabType    domain.LabType             `json:"labType"`
	Values     map[string]domain.LabValue `json:"values"`
	Prediction domain.RiskAssessment      `json:"prediction"`
	Model      string                     `json:"model,omitempty"`
}

type narrativeResponse struct {
	Breakdown []domain.LabValueBreakdownEntry `json:"labValueBreakdown"`
	Referrals []domain.SpecialistReferral     `json:"specialistReferrals"`
	Narrative string                          `json:"narrativeText"`
}

// GenerateBreakdown requests the breakdown and narrative for one report.
func (c *NarrativeClient) GenerateBreakdown(ctx context.Context, labType domain.LabType, values map[string]domain.LabValue, raw domain.RiskAssessment) (*domain.AnalysisNarrative, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(narrativeRequest{
		LabType:    labType,
		Values:     values,
		Prediction: raw,
		Model:      c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode narrative request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/narratives/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create narrative request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute narrative request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("narrative service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read narrative response: %w", err)
	}

	var parsed narrativeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse narrative response: %w", err)
	}

	return &domain.AnalysisNarrative{
		Breakdown: parsed.Breakdown,
		Referrals: parsed.Referrals,
		Narrative: parsed.Narrative,
	}, nil
}
