package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/mediscan/analysis-server/internal/domain"
)

// PredictionClient talks to the statistical risk model service. The model was
// trained on a fixed feature vector; values the report did not contain are
// backfilled with population median defaults before the call.
type PredictionClient struct {
	baseURL     string
	useEnsemble bool
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewPredictionClient creates a new risk prediction client.
func NewPredictionClient(config domain.PredictionConfig) *PredictionClient {
	rps := config.RateLimit
	if rps <= 0 {
		rps = 10
	}
	return &PredictionClient{
		baseURL:     config.BaseURL,
		useEnsemble: config.UseEnsemble,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// modelFeatures is the model's input vector. Order does not matter on the
// wire; the defaults are the training-set medians for healthy adults.
var modelFeatures = map[string]float64{
	"wbc":           7.5,
	"rbc":           4.7,
	"hemoglobin":    14.0,
	"platelets":     250,
	"cholesterol":   180,
	"hdl":           55,
	"ldl":           100,
	"triglycerides": 140,
	"glucose":       95,
	"a1c":           5.4,
	"ph":            6.0,
	"protein":       0,
}

// featureMatchOrder resolves ambiguous report keys deterministically: the
// specific lipid fractions come before "cholesterol" so that a key like
// "hdl_cholesterol" feeds hdl, not the total.
var featureMatchOrder = []string{
	"hdl", "ldl", "triglycerides", "a1c",
	"hemoglobin", "platelets", "glucose", "protein",
	"wbc", "rbc", "ph", "cholesterol",
}

type predictionResponse struct {
	RiskLevel     string             `json:"riskLevel"`
	RiskScore     int                `json:"riskScore"`
	Confidence    int                `json:"confidence"`
	Model         string             `json:"model"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// PredictRisk sends the feature vector derived from the parsed values to the
// model service and returns its raw assessment.
func (c *PredictionClient) PredictRisk(ctx context.Context, values map[string]domain.LabValue) (*domain.RiskPrediction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"features": BuildFeatureVector(values),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	endpoint := c.baseURL + "/predict"
	if c.useEnsemble {
		endpoint = c.baseURL + "/predict/ensemble"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prediction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %w", err)
	}

	var parsed predictionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse prediction response: %w", err)
	}

	level := domain.RiskLevel(strings.ToLower(parsed.RiskLevel))
	if !level.IsValid() {
		return nil, fmt.Errorf("prediction service returned unknown risk level %q", parsed.RiskLevel)
	}

	return &domain.RiskPrediction{
		RiskAssessment: domain.RiskAssessment{
			Level: level,
			Score: parsed.RiskScore,
		},
		Confidence:    parsed.Confidence,
		Model:         parsed.Model,
		Probabilities: parsed.Probabilities,
	}, nil
}

// BuildFeatureVector maps parsed report values onto the model's feature
// names. Report keys are matched loosely ("hemoglobin_level" feeds
// "hemoglobin"); categorical strings go through LabValue's numeric
// conversion, and any feature the report did not provide keeps its default.
func BuildFeatureVector(values map[string]domain.LabValue) map[string]float64 {
	features := make(map[string]float64, len(modelFeatures))
	for name, def := range modelFeatures {
		features[name] = def
	}

	for key, value := range values {
		number, ok := value.Float64()
		if !ok {
			continue
		}
		lower := strings.ToLower(key)
		for _, feature := range featureMatchOrder {
			if strings.Contains(lower, feature) {
				features[feature] = number
				break
			}
		}
	}

	return features
}

// Ping probes the model service's health endpoint.
func (c *PredictionClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("prediction service unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prediction service health returned status %d", resp.StatusCode)
	}
	return nil
}
