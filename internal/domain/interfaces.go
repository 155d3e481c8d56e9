package domain

import (
	"context"
)

// OCRExtractor converts an uploaded report image into raw text plus
// machine-parsed key/value pairs. Implemented by the document OCR
// collaborator client.
type OCRExtractor interface {
	ExtractText(ctx context.Context, image []byte, labType LabType) (*OCRResult, error)
}

// RiskPredictor returns the statistical model's raw risk assessment for a
// set of parsed lab values. Treated as opaque input to risk reconciliation.
type RiskPredictor interface {
	PredictRisk(ctx context.Context, values map[string]LabValue) (*RiskPrediction, error)
}

// BreakdownGenerator produces the per-parameter clinical breakdown,
// specialist referrals and narrative explanation for a report.
type BreakdownGenerator interface {
	GenerateBreakdown(ctx context.Context, labType LabType, values map[string]LabValue, raw RiskAssessment) (*AnalysisNarrative, error)
}

// AnalysisRepository persists completed analyses.
type AnalysisRepository interface {
	Create(ctx context.Context, record *AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*AnalysisRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*AnalysisRecord, error)
	Delete(ctx context.Context, id string) error
}

// ProgressSink receives pipeline stage transitions for one analysis.
// Implementations must not block the pipeline.
type ProgressSink interface {
	Publish(analysisID string, stage AnalysisStage)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetExternalAPIConfig() *ExternalAPIConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
