// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes patch validation over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tessellate-ai/patchgate/pkg/extensions"
	"github.com/tessellate-ai/patchgate/pkg/validation"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/telemetry"
)

// ServiceVersion is the gatekeeper service version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ValidateRequest is the body of POST /api/v1/validate.
type ValidateRequest struct {
	// Patch is the candidate in operations-list form.
	Patch *patch.Patch `json:"patch"`

	// UnifiedDiff is the candidate in diff form. Exactly one of Patch
	// and UnifiedDiff must be set.
	UnifiedDiff string `json:"unified_diff,omitempty"`

	// ContextFiles are the retrieval collaborator's files.
	ContextFiles []patch.ContextFile `json:"context_files" binding:"required"`

	// Understanding is optional issue analysis.
	Understanding *pipeline.Understanding `json:"understanding,omitempty"`

	// Metadata is optional static-analysis input.
	Metadata *pipeline.Metadata `json:"metadata,omitempty"`
}

// ValidateResponse wraps the verdict with request bookkeeping.
type ValidateResponse struct {
	RequestID string            `json:"request_id"`
	Verdict   *pipeline.Verdict `json:"verdict"`
}

// Handlers holds the HTTP handlers for the validation service.
type Handlers struct {
	pipe           *pipeline.Pipeline
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewHandlers creates handlers over the given pipeline.
func NewHandlers(pipe *pipeline.Pipeline, requestTimeout time.Duration, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{pipe: pipe, requestTimeout: requestTimeout, logger: logger}
}

// HandleValidate handles POST /api/v1/validate.
func (h *Handlers) HandleValidate(c *gin.Context) {
	requestID := uuid.New().String()
	logger := telemetry.LoggerWithRequest(c.Request.Context(), h.logger, requestID)

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("rejecting malformed validate request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid request body: " + err.Error(),
			RequestID: requestID,
		})
		return
	}

	cand := req.Patch
	if cand == nil && req.UnifiedDiff != "" {
		parsed, err := patch.FromUnifiedDiff(req.UnifiedDiff)
		if err != nil {
			logger.Warn("rejecting unparseable diff", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid unified diff: " + err.Error(),
				RequestID: requestID,
			})
			return
		}
		cand = parsed
	}
	if cand == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "one of patch or unified_diff is required",
			RequestID: requestID,
		})
		return
	}

	paths := cand.Paths()
	for _, f := range req.ContextFiles {
		paths = append(paths, f.Path)
	}
	if err := validation.ValidateRepoPaths(paths); err != nil {
		logger.Warn("rejecting unsafe path", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "unsafe path: " + err.Error(),
			RequestID: requestID,
		})
		return
	}

	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	verdict, err := h.pipe.Validate(ctx, cand, req.ContextFiles, &pipeline.Options{
		Understanding: req.Understanding,
		Metadata:      req.Metadata,
	})
	if err != nil {
		logger.Error("validation aborted", "error", err)
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:     "validation aborted: " + err.Error(),
			RequestID: requestID,
		})
		return
	}

	logger.Info("validation served",
		"valid", verdict.Valid,
		"confidence", verdict.Confidence,
		"issues", len(verdict.Issues),
	)
	outcome := "blocked"
	if verdict.Valid {
		outcome = "success"
	}
	if err := extensions.Audit(ctx, extensions.AuditEvent{
		EventType: "validate.verdict",
		RequestID: requestID,
		Outcome:   outcome,
		Metadata: map[string]any{
			"confidence": verdict.Confidence,
			"issues":     len(verdict.Issues),
			"halted_at":  verdict.HaltedAt,
		},
	}); err != nil {
		logger.Warn("audit event dropped", "error", err)
	}
	c.JSON(http.StatusOK, ValidateResponse{
		RequestID: requestID,
		Verdict:   verdict,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": ServiceVersion,
	})
}
