package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/analysis-server/internal/domain"
)

func TestOCRClient_ExtractText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ocr/extract", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "cbc", r.FormValue("labType"))

		file, _, err := r.FormFile("image")
		require.NoError(t, err)
		file.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"text": "Complete Blood Count\nHemoglobin 12.5 g/dL",
			"confidence": 0.91,
			"parsedValues": {"hemoglobin": 12.5, "protein": "negative"}
		}`))
	}))
	defer server.Close()

	client := NewOCRClient(domain.OCRConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})

	result, err := client.ExtractText(context.Background(), []byte("fake-image"), domain.LabTypeCBC)

	require.NoError(t, err)
	assert.Contains(t, result.Text, "Complete Blood Count")
	assert.Equal(t, 0.91, result.Confidence)
	assert.Equal(t, domain.NumericValue(12.5), result.ParsedValues["hemoglobin"])
	assert.Equal(t, domain.TextValue("negative"), result.ParsedValues["protein"])
}

func TestOCRClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOCRClient(domain.OCRConfig{BaseURL: server.URL, Timeout: 5 * time.Second})

	_, err := client.ExtractText(context.Background(), []byte("fake-image"), domain.LabTypeCBC)
	assert.Error(t, err)
}

func TestPredictionClient_PredictRisk(t *testing.T) {
	var gotFeatures map[string]float64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)

		var body struct {
			Features map[string]float64 `json:"features"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotFeatures = body.Features

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"riskLevel": "Moderate",
			"riskScore": 48,
			"confidence": 84,
			"model": "random_forest",
			"probabilities": {"low": 0.1, "moderate": 0.7, "high": 0.2}
		}`))
	}))
	defer server.Close()

	client := NewPredictionClient(domain.PredictionConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})

	prediction, err := client.PredictRisk(context.Background(), map[string]domain.LabValue{
		"hemoglobin_level": domain.NumericValue(9.0),
		"wbc":              domain.NumericValue(12.0),
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RiskModerate, prediction.Level)
	assert.Equal(t, 48, prediction.Score)
	assert.Equal(t, 84, prediction.Confidence)
	assert.Equal(t, "random_forest", prediction.Model)

	// Provided values override the defaults; everything else is backfilled.
	assert.Equal(t, 9.0, gotFeatures["hemoglobin"])
	assert.Equal(t, 12.0, gotFeatures["wbc"])
	assert.Equal(t, 250.0, gotFeatures["platelets"])
	assert.Equal(t, 180.0, gotFeatures["cholesterol"])
}

func TestPredictionClient_EnsembleEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/ensemble", r.URL.Path)
		w.Write([]byte(`{"riskLevel": "low", "riskScore": 10, "confidence": 90, "model": "ensemble"}`))
	}))
	defer server.Close()

	client := NewPredictionClient(domain.PredictionConfig{
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		UseEnsemble: true,
	})

	prediction, err := client.PredictRisk(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ensemble", prediction.Model)
}

func TestPredictionClient_UnknownRiskLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"riskLevel": "catastrophic", "riskScore": 99}`))
	}))
	defer server.Close()

	client := NewPredictionClient(domain.PredictionConfig{BaseURL: server.URL, Timeout: 5 * time.Second})

	_, err := client.PredictRisk(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildFeatureVector(t *testing.T) {
	features := BuildFeatureVector(map[string]domain.LabValue{
		"hdl_cholesterol":   domain.NumericValue(42),
		"total_cholesterol": domain.NumericValue(210),
		"protein":           domain.TextValue("trace"),
		"color":             domain.TextValue("yellow"),
	})

	// The hdl fraction must not clobber the total, and vice versa.
	assert.Equal(t, 42.0, features["hdl"])
	assert.Equal(t, 210.0, features["cholesterol"])

	// Categorical positives convert to 1; unconvertible text is skipped.
	assert.Equal(t, 1.0, features["protein"])

	// Unprovided features keep their defaults.
	assert.Equal(t, 14.0, features["hemoglobin"])
	assert.Equal(t, 5.4, features["a1c"])
}

func TestNarrativeClient_GenerateBreakdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/narratives/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body narrativeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, domain.LabTypeCBC, body.LabType)
		assert.Equal(t, domain.RiskLow, body.Prediction.Level)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"labValueBreakdown": [
				{"parameter": "hemoglobin", "value": "9.0 g/dL", "normalRange": "12-17.5 g/dL", "status": "abnormal", "interpretation": "below normal range"}
			],
			"specialistReferrals": [
				{"type": "hematology", "reason": "low hemoglobin", "urgency": "soon"}
			],
			"narrativeText": "Your hemoglobin is below the normal range."
		}`))
	}))
	defer server.Close()

	client := NewNarrativeClient(domain.NarrativeConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})

	narrative, err := client.GenerateBreakdown(
		context.Background(),
		domain.LabTypeCBC,
		map[string]domain.LabValue{"hemoglobin": domain.NumericValue(9.0)},
		domain.RiskAssessment{Level: domain.RiskLow, Score: 20},
	)

	require.NoError(t, err)
	require.Len(t, narrative.Breakdown, 1)
	assert.Equal(t, domain.StatusAbnormal, narrative.Breakdown[0].Status)
	require.Len(t, narrative.Referrals, 1)
	assert.Equal(t, domain.UrgencySoon, narrative.Referrals[0].Urgency)
	assert.Contains(t, narrative.Narrative, "hemoglobin")
}

func TestResilientClient_BreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := NewResilientAnalysisClient(domain.ExternalAPIConfig{
		Prediction: domain.PredictionConfig{
			BaseURL:   server.URL,
			Timeout:   time.Second,
			RateLimit: 1000,
		},
	}, logger)

	// Enough consecutive failures to trip the breaker.
	for i := 0; i < 5; i++ {
		_, err := client.PredictRisk(context.Background(), nil)
		require.Error(t, err)
	}

	assert.Equal(t, "open", client.GetCircuitBreakerStates()["Prediction"])

	_, err := client.PredictRisk(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestPredictionClient_Ping(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	client := NewPredictionClient(domain.PredictionConfig{
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	})

	assert.NoError(t, client.Ping(context.Background()))

	healthy = false
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
