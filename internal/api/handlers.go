package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/domain"
	"github.com/mediscan/analysis-server/internal/feedback"
	"github.com/mediscan/analysis-server/internal/service"
)

// handleHealth reports service and collaborator health.
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	components := gin.H{}

	if s.dbHealth != nil {
		if err := s.dbHealth(c.Request.Context()); err != nil {
			components["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			components["database"] = gin.H{"status": "healthy"}
		}
	} else {
		components["database"] = gin.H{"status": "disabled"}
	}

	if s.cachePing != nil {
		if err := s.cachePing(c.Request.Context()); err != nil {
			// Cache loss degrades latency, not correctness.
			components["cache"] = gin.H{"status": "unhealthy", "error": err.Error()}
		} else {
			components["cache"] = gin.H{"status": "healthy"}
		}
	} else {
		components["cache"] = gin.H{"status": "disabled"}
	}

	if s.predictionPing != nil {
		if err := s.predictionPing(c.Request.Context()); err != nil {
			// Degraded, not down: uploads fail at the prediction stage
			// but persisted analyses stay readable.
			components["prediction"] = gin.H{"status": "unhealthy", "error": err.Error()}
		} else {
			components["prediction"] = gin.H{"status": "healthy"}
		}
	} else {
		components["prediction"] = gin.H{"status": "disabled"}
	}

	if s.breakerStates != nil {
		components["circuit_breakers"] = s.breakerStates()
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC(),
		"version":    "1.0.0",
	})
}

// handleCreateAnalysis accepts a multipart report upload and runs the
// full analysis pipeline.
func (s *Server) handleCreateAnalysis(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	labType, err := domain.ParseLabType(c.PostForm("lab_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"lab_type must be one of: cbc, urinalysis, lipid",
			err.Error(),
			requestID,
		))
		return
	}

	fileHeader, err := c.FormFile("report")
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"report file is required",
			err.Error(),
			requestID,
		))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"failed to open uploaded file",
			err.Error(),
			requestID,
		))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"failed to read uploaded file",
			err.Error(),
			requestID,
		))
		return
	}

	record, err := s.analyzer.AnalyzeReport(c.Request.Context(), &service.AnalysisRequest{
		Image:         image,
		LabType:       labType,
		CorrelationID: requestID,
	})
	if err != nil {
		s.renderAnalysisError(c, err, requestID)
		return
	}

	c.JSON(http.StatusOK, record)
}

// renderAnalysisError maps pipeline errors onto HTTP responses.
// Classifier rejections are 422 with the structured rejection payload;
// everything else is a server fault.
func (s *Server) renderAnalysisError(c *gin.Context, err error, requestID string) {
	var rejection *domain.RejectionError
	if errors.As(err, &rejection) {
		c.JSON(http.StatusUnprocessableEntity, rejection)
		return
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		s.logger.WithFields(logrus.Fields{
			"code":       apiErr.Code,
			"request_id": requestID,
		}).WithError(err).Error("Analysis pipeline failed")
		c.JSON(http.StatusInternalServerError, apiErr)
		return
	}

	s.logger.WithField("request_id", requestID).WithError(err).Error("Analysis pipeline failed")
	c.JSON(http.StatusInternalServerError, domain.NewAPIError(
		domain.ErrInternalServer,
		"analysis failed",
		"",
		requestID,
	))
}

// handleGetAnalysis returns one persisted analysis record.
func (s *Server) handleGetAnalysis(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	record, err := s.analyzer.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, domain.NewAPIError(
				domain.ErrInvalidInput,
				"analysis not found",
				c.Param("id"),
				requestID,
			))
			return
		}
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrDatabaseError,
			"failed to load analysis",
			"",
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleDeleteAnalysis removes a persisted analysis record.
func (s *Server) handleDeleteAnalysis(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	if err := s.analyzer.DeleteAnalysis(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, domain.NewAPIError(
				domain.ErrInvalidInput,
				"analysis not found",
				c.Param("id"),
				requestID,
			))
			return
		}
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrDatabaseError,
			"failed to delete analysis",
			"",
			requestID,
		))
		return
	}

	c.Status(http.StatusNoContent)
}

// handleListAnalyses returns recent analyses, newest first.
func (s *Server) handleListAnalyses(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, err := s.analyzer.ListRecentAnalyses(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrDatabaseError,
			"failed to list analyses",
			"",
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analyses": records,
		"count":    len(records),
	})
}

// handleReferenceRanges returns the normal-range table for a lab type.
func (s *Server) handleReferenceRanges(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	labType, err := domain.ParseLabType(c.Param("labType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"unknown lab type",
			err.Error(),
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lab_type":         labType,
		"display_name":     labType.DisplayName(),
		"reference_ranges": service.ReferenceRangesFor(labType),
	})
}

// handleCacheStats reports prediction cache hit rates.
func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cacheStats == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
		"stats":   s.cacheStats(),
	})
}

// feedbackRequest is the JSON body for submitting feedback on an analysis.
type feedbackRequest struct {
	AnalysisID     string `json:"analysis_id" binding:"required"`
	LabType        string `json:"lab_type" binding:"required"`
	SuggestedLevel string `json:"suggested_level" binding:"required"`
	UserLevel      string `json:"user_level" binding:"required"`
	Comment        string `json:"comment"`
}

// handleSaveFeedback records user agreement or dispute with a corrected
// risk assessment.
func (s *Server) handleSaveFeedback(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"invalid feedback payload",
			err.Error(),
			requestID,
		))
		return
	}

	labType, err := domain.ParseLabType(req.LabType)
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"unknown lab type",
			err.Error(),
			requestID,
		))
		return
	}

	suggested := domain.RiskLevel(req.SuggestedLevel)
	userLevel := domain.RiskLevel(req.UserLevel)
	if !suggested.IsValid() || !userLevel.IsValid() {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"risk levels must be one of: low, moderate, high",
			"",
			requestID,
		))
		return
	}

	fb := &feedback.Feedback{
		AnalysisID:     req.AnalysisID,
		LabType:        labType,
		SuggestedLevel: suggested,
		UserLevel:      userLevel,
		UserAgreed:     suggested == userLevel,
		Comment:        req.Comment,
	}

	if err := s.feedbackStore.Save(c.Request.Context(), fb); err != nil {
		s.logger.WithError(err).Error("Failed to save feedback")
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrDatabaseError,
			"failed to save feedback",
			"",
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, fb)
}

// handleListFeedback returns feedback entries with pagination.
func (s *Server) handleListFeedback(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.feedbackStore.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrDatabaseError,
			"failed to list feedback",
			"",
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feedback": entries,
		"count":    len(entries),
	})
}

// handleFeedbackStats returns agreement statistics.
func (s *Server) handleFeedbackStats(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	stats, err := s.feedbackStore.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrDatabaseError,
			"failed to compute feedback stats",
			"",
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleExportFeedback streams all feedback as a JSON document.
func (s *Server) handleExportFeedback(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename=feedback-export.json")

	if err := s.feedbackStore.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		s.logger.WithError(err).Error("Failed to export feedback")
		c.Status(http.StatusInternalServerError)
	}
}

// handleImportFeedback loads feedback from an uploaded JSON document.
// Entries for analyses that already have feedback are skipped.
func (s *Server) handleImportFeedback(c *gin.Context) {
	requestID := c.GetString("correlation_id")

	imported, skipped, err := s.feedbackStore.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"invalid feedback export document",
			err.Error(),
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imported": imported,
		"skipped":  skipped,
	})
}
