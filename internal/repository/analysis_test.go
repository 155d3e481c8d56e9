package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mediscan/analysis-server/internal/database"
	"github.com/mediscan/analysis-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	testPassword := generateTestPassword()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := domain.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "testdb",
		Username:        "testuser",
		Password:        testPassword,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		SSLMode:         "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	databaseURL := "postgres://testuser:" + testPassword + "@" + host + ":" + port.Port() + "/testdb?sslmode=disable"
	migrationRunner, err := database.NewMigrationRunner(databaseURL, "../../migrations", logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}

	if err := migrationRunner.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func testRecord(labType domain.LabType) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		ID:      uuid.New().String(),
		LabType: labType,
		TextValidation: &domain.ValidationResult{
			IsValid:           true,
			Confidence:        1.0,
			Reasons:           []string{"Text matches the expected structure of a cbc report"},
			MatchedKeywords:   []string{"complete blood count"},
			MatchedParameters: []string{"hemoglobin", "hematocrit", "wbc", "platelet"},
		},
		ValuesValidation: &domain.ValidationResult{
			IsValid:           true,
			Confidence:        1.0,
			Reasons:           []string{"Parsed values contain 4 parameters expected in a cbc report"},
			MatchedKeywords:   []string{},
			MatchedParameters: []string{"hemoglobin", "hematocrit", "wbc", "platelet"},
		},
		RawRisk:       domain.RiskAssessment{Level: domain.RiskLow, Score: 20},
		CorrectedRisk: domain.RiskAssessment{Level: domain.RiskModerate, Score: 48},
		Breakdown: []domain.LabValueBreakdownEntry{
			{Parameter: "hemoglobin", Value: "9.0 g/dL", NormalRange: "12-17.5 g/dL", Status: domain.StatusAbnormal},
		},
		Referrals: []domain.SpecialistReferral{
			{Type: "hematology", Reason: "low hemoglobin", Urgency: domain.UrgencySoon},
		},
		Narrative:        "Your hemoglobin is below the normal range.",
		OCRConfidence:    0.93,
		ProcessingTimeMS: 1200,
		CorrelationID:    uuid.New().String(),
	}
}

func TestAnalysisRepository_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewAnalysisRepository(db.Pool, logger)

	record := testRecord(domain.LabTypeCBC)

	ctx := context.Background()
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("Failed to create analysis: %v", err)
	}

	retrieved, err := repo.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("Failed to retrieve analysis: %v", err)
	}

	if retrieved.ID != record.ID {
		t.Errorf("Expected ID %s, got %s", record.ID, retrieved.ID)
	}
	if retrieved.CorrectedRisk != record.CorrectedRisk {
		t.Errorf("Expected corrected risk %+v, got %+v", record.CorrectedRisk, retrieved.CorrectedRisk)
	}
	if len(retrieved.Breakdown) != 1 || retrieved.Breakdown[0].Status != domain.StatusAbnormal {
		t.Errorf("Breakdown did not round-trip: %+v", retrieved.Breakdown)
	}
	if !retrieved.TextValidation.IsValid {
		t.Error("Text validation result did not round-trip")
	}
}

func TestAnalysisRepository_GetMissing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewAnalysisRepository(db.Pool, logger)

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	if err == nil {
		t.Fatal("Expected error for missing analysis")
	}
}

func TestAnalysisRepository_ListRecent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewAnalysisRepository(db.Pool, logger)

	ctx := context.Background()
	for _, labType := range []domain.LabType{domain.LabTypeCBC, domain.LabTypeUrinalysis, domain.LabTypeLipidProfile} {
		if err := repo.Create(ctx, testRecord(labType)); err != nil {
			t.Fatalf("Failed to create analysis: %v", err)
		}
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to list recent analyses: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("Expected 2 analyses, got %d", len(recent))
	}

	byType, err := repo.ListByLabType(ctx, domain.LabTypeUrinalysis, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list analyses by lab type: %v", err)
	}
	if len(byType) != 1 {
		t.Errorf("Expected 1 urinalysis analysis, got %d", len(byType))
	}

	counts, err := repo.CountByRiskLevel(ctx)
	if err != nil {
		t.Fatalf("Failed to count analyses by risk level: %v", err)
	}
	if counts[domain.RiskModerate] != 3 {
		t.Errorf("Expected 3 moderate analyses, got %d", counts[domain.RiskModerate])
	}
}

func TestAnalysisRepository_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	repo := NewAnalysisRepository(db.Pool, logger)

	record := testRecord(domain.LabTypeCBC)

	ctx := context.Background()
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("Failed to create analysis: %v", err)
	}

	if err := repo.Delete(ctx, record.ID); err != nil {
		t.Fatalf("Failed to delete analysis: %v", err)
	}

	if _, err := repo.GetByID(ctx, record.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	if err := repo.Delete(ctx, uuid.New().String()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing analysis, got %v", err)
	}
}
