package external

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/mediscan/analysis-server/internal/domain"
)

// ResilientAnalysisClient wraps the three collaborator clients with circuit
// breakers. A collaborator that keeps failing gets cut off for a cooldown
// period instead of stacking up timed-out requests behind it.
type ResilientAnalysisClient struct {
	ocrClient        *OCRClient
	predictionClient *PredictionClient
	narrativeClient  *NarrativeClient

	ocrBreaker        *gobreaker.CircuitBreaker
	predictionBreaker *gobreaker.CircuitBreaker
	narrativeBreaker  *gobreaker.CircuitBreaker

	logger *logrus.Logger
}

// NewResilientAnalysisClient creates the collaborator clients with circuit
// breakers around each.
func NewResilientAnalysisClient(config domain.ExternalAPIConfig, logger *logrus.Logger) *ResilientAnalysisClient {
	newBreaker := func(name string, maxRequests uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: maxRequests,
			Interval:    30 * time.Second,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		})
	}

	return &ResilientAnalysisClient{
		ocrClient:        NewOCRClient(config.OCR),
		predictionClient: NewPredictionClient(config.Prediction),
		narrativeClient:  NewNarrativeClient(config.Narrative),

		ocrBreaker:        newBreaker("OCR", 5, 60*time.Second),
		predictionBreaker: newBreaker("Prediction", 5, 30*time.Second),
		// Narrative generation is the slowest and most expensive call, so
		// it gets fewer half-open probes and a longer cooldown.
		narrativeBreaker: newBreaker("Narrative", 2, 90*time.Second),

		logger: logger,
	}
}

// ExtractText runs OCR through its circuit breaker.
func (r *ResilientAnalysisClient) ExtractText(ctx context.Context, image []byte, labType domain.LabType) (*domain.OCRResult, error) {
	result, err := r.ocrBreaker.Execute(func() (interface{}, error) {
		return r.ocrClient.ExtractText(ctx, image, labType)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("OCR service unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("OCR extraction failed: %w", err)
	}
	return result.(*domain.OCRResult), nil
}

// PredictRisk runs the statistical prediction through its circuit breaker.
func (r *ResilientAnalysisClient) PredictRisk(ctx context.Context, values map[string]domain.LabValue) (*domain.RiskPrediction, error) {
	result, err := r.predictionBreaker.Execute(func() (interface{}, error) {
		return r.predictionClient.PredictRisk(ctx, values)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("prediction service unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("risk prediction failed: %w", err)
	}
	return result.(*domain.RiskPrediction), nil
}

// GenerateBreakdown runs narrative generation through its circuit breaker.
func (r *ResilientAnalysisClient) GenerateBreakdown(ctx context.Context, labType domain.LabType, values map[string]domain.LabValue, raw domain.RiskAssessment) (*domain.AnalysisNarrative, error) {
	result, err := r.narrativeBreaker.Execute(func() (interface{}, error) {
		return r.narrativeClient.GenerateBreakdown(ctx, labType, values, raw)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("narrative service unavailable (circuit breaker open)")
		}
		return nil, fmt.Errorf("breakdown generation failed: %w", err)
	}
	return result.(*domain.AnalysisNarrative), nil
}

// GetCircuitBreakerStats returns request counts for all circuit breakers.
func (r *ResilientAnalysisClient) GetCircuitBreakerStats() map[string]gobreaker.Counts {
	return map[string]gobreaker.Counts{
		"OCR":        r.ocrBreaker.Counts(),
		"Prediction": r.predictionBreaker.Counts(),
		"Narrative":  r.narrativeBreaker.Counts(),
	}
}

// GetCircuitBreakerStates returns the current state of all circuit breakers.
func (r *ResilientAnalysisClient) GetCircuitBreakerStates() map[string]string {
	return map[string]string{
		"OCR":        r.ocrBreaker.State().String(),
		"Prediction": r.predictionBreaker.State().String(),
		"Narrative":  r.narrativeBreaker.State().String(),
	}
}

// PingPrediction probes the model service directly, bypassing the breaker
// so health checks keep reporting while the breaker is open.
func (r *ResilientAnalysisClient) PingPrediction(ctx context.Context) error {
	return r.predictionClient.Ping(ctx)
}
