// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/patchgate/services/gatekeeper/patch"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline"
	"github.com/tessellate-ai/patchgate/services/gatekeeper/pipeline/layers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	pipe, err := pipeline.New(pipeline.DefaultTuning(), nil, layers.Default(layers.Options{})...)
	require.NoError(t, err)
	return NewRouter(NewHandlers(pipe, time.Minute, nil))
}

func postValidate(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleValidateCleanPatch(t *testing.T) {
	router := newTestRouter(t)
	rec := postValidate(t, router, ValidateRequest{
		Patch: &patch.Patch{Operations: []patch.FileOperation{{
			Kind: patch.OpEdit,
			Path: "app.py",
			Edits: []patch.Edit{{
				StartLine: 1, EndLine: 1, OldText: "x = 1", NewText: "x = 2",
			}},
		}}},
		ContextFiles: []patch.ContextFile{{Path: "app.py", Content: "x = 1\n"}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	require.NotNil(t, resp.Verdict)
	assert.True(t, resp.Verdict.Valid)
	assert.True(t, resp.Verdict.ApplyPassed)
}

func TestHandleValidateRejectedPatch(t *testing.T) {
	router := newTestRouter(t)
	rec := postValidate(t, router, ValidateRequest{
		Patch: &patch.Patch{Operations: []patch.FileOperation{{
			Kind: patch.OpEdit,
			Path: "ghost.py",
			Edits: []patch.Edit{{
				StartLine: 1, EndLine: 1, OldText: "a", NewText: "b",
			}},
		}}},
		ContextFiles: []patch.ContextFile{{Path: "app.py", Content: "x = 1\n"}},
	})

	require.Equal(t, http.StatusOK, rec.Code, "a rejected patch is still a served verdict")
	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Verdict.Valid)
	assert.NotEmpty(t, resp.Verdict.Feedback)
}

func TestHandleValidateUnifiedDiff(t *testing.T) {
	router := newTestRouter(t)
	diff := "--- a/app.py\n+++ b/app.py\n@@ -1,1 +1,1 @@\n-x = 1\n+x = 2\n"
	rec := postValidate(t, router, ValidateRequest{
		UnifiedDiff:  diff,
		ContextFiles: []patch.ContextFile{{Path: "app.py", Content: "x = 1\n"}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verdict.Valid)
}

func TestHandleValidateMissingCandidate(t *testing.T) {
	router := newTestRouter(t)
	rec := postValidate(t, router, ValidateRequest{
		ContextFiles: []patch.ContextFile{{Path: "app.py", Content: "x = 1\n"}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "patch or unified_diff")
	assert.NotEmpty(t, resp.RequestID)
}

func TestHandleValidateMalformedBody(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/validate", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleValidateMissingContextFiles(t *testing.T) {
	router := newTestRouter(t)
	rec := postValidate(t, router, map[string]any{
		"patch": &patch.Patch{Operations: []patch.FileOperation{{
			Kind: patch.OpCreate, Path: "new.py", Content: "x = 1\n",
		}}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code, "context_files is required")
}

func TestHandleValidateUnsafePath(t *testing.T) {
	router := newTestRouter(t)
	rec := postValidate(t, router, ValidateRequest{
		Patch: &patch.Patch{Operations: []patch.FileOperation{{
			Kind: patch.OpCreate, Path: "../../etc/passwd", Content: "pwned\n",
		}}},
		ContextFiles: []patch.ContextFile{{Path: "app.py", Content: "x = 1\n"}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "unsafe path")
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
	assert.Contains(t, rec.Body.String(), ServiceVersion)
}
