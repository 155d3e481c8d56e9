package feedback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/analysis-server/internal/domain"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	// Act
	store, err := NewSQLiteStore(dbPath)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	// Verify database file was created
	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "feedback.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	return store
}

func sampleFeedback(analysisID string) *Feedback {
	return &Feedback{
		AnalysisID:     analysisID,
		LabType:        domain.LabTypeCBC,
		SuggestedLevel: domain.RiskModerate,
		UserLevel:      domain.RiskHigh,
		UserAgreed:     false,
		Comment:        "Physician flagged the hemoglobin trend as concerning",
	}
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	feedback := sampleFeedback("a2f1c3de-0001-4f6a-9f3a-111111111111")

	// Act
	err := store.Save(ctx, feedback)

	// Assert
	require.NoError(t, err)
	assert.NotZero(t, feedback.ID, "ID should be assigned")
	assert.False(t, feedback.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, feedback.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	feedback := sampleFeedback("a2f1c3de-0002-4f6a-9f3a-222222222222")
	feedback.UserLevel = domain.RiskModerate
	feedback.UserAgreed = true
	err := store.Save(ctx, feedback)
	require.NoError(t, err)
	originalID := feedback.ID

	// Update with disagreement
	updated := sampleFeedback(feedback.AnalysisID)
	updated.UserLevel = domain.RiskHigh
	updated.UserAgreed = false
	err = store.Save(ctx, updated)
	require.NoError(t, err)

	// Same analysis keeps the same row
	assert.Equal(t, originalID, updated.ID, "Update should keep the same ID")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := store.Get(ctx, feedback.AnalysisID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.RiskHigh, got.UserLevel)
	assert.False(t, got.UserAgreed)
}

func TestSQLiteStore_Get(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	feedback := sampleFeedback("a2f1c3de-0003-4f6a-9f3a-333333333333")
	require.NoError(t, store.Save(ctx, feedback))

	got, err := store.Get(ctx, feedback.AnalysisID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, feedback.AnalysisID, got.AnalysisID)
	assert.Equal(t, domain.LabTypeCBC, got.LabType)
	assert.Equal(t, domain.RiskModerate, got.SuggestedLevel)
	assert.Equal(t, feedback.Comment, got.Comment)
}

func TestSQLiteStore_Get_Missing(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	got, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got, "Missing feedback should return nil without error")
}

func TestSQLiteStore_List(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	ids := []string{
		"a2f1c3de-0004-4f6a-9f3a-444444444444",
		"a2f1c3de-0005-4f6a-9f3a-555555555555",
		"a2f1c3de-0006-4f6a-9f3a-666666666666",
	}
	for i, id := range ids {
		fb := sampleFeedback(id)
		fb.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Save(ctx, fb))
	}

	all, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Pagination
	page, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLiteStore_GetStats(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	agreed := sampleFeedback("a2f1c3de-0007-4f6a-9f3a-777777777777")
	agreed.UserLevel = domain.RiskModerate
	agreed.UserAgreed = true
	require.NoError(t, store.Save(ctx, agreed))

	disagreed := sampleFeedback("a2f1c3de-0008-4f6a-9f3a-888888888888")
	require.NoError(t, store.Save(ctx, disagreed))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Agreed)
	assert.Equal(t, int64(1), stats.Disagreed)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	feedback := sampleFeedback("a2f1c3de-0009-4f6a-9f3a-999999999999")
	require.NoError(t, store.Save(ctx, feedback))

	require.NoError(t, store.Delete(ctx, feedback.ID))

	got, err := store.Get(ctx, feedback.AnalysisID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for _, id := range []string{
		"a2f1c3de-0010-4f6a-9f3a-aaaaaaaaaaaa",
		"a2f1c3de-0011-4f6a-9f3a-bbbbbbbbbbbb",
	} {
		require.NoError(t, store.Save(ctx, sampleFeedback(id)))
	}

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))
	assert.Contains(t, buf.String(), "a2f1c3de-0010")

	// Import into a fresh store
	fresh := createTestStore(t)
	defer fresh.Close()

	imported, skipped, err := fresh.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	// Re-import skips existing entries
	imported, skipped, err = fresh.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 2, skipped)
}
