// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the hook points external deployments plug
// into. The open-source build ships no-op implementations; compliance
// builds register their own at startup.
package extensions

import (
	"context"
	"sync"
	"time"
)

// AuditEvent records one security-relevant action for compliance logs.
//
// Event types follow a "category.action" convention:
//   - "validate.request"  a patch arrived for validation
//   - "validate.verdict"  the pipeline produced a verdict
//   - "refine.iteration"  a refinement cycle ran
type AuditEvent struct {
	// EventType categorizes the event, "category.action" form.
	EventType string

	// Timestamp is when the event occurred, UTC. Zero means now.
	Timestamp time.Time

	// RequestID ties the event to a validation request.
	RequestID string

	// Outcome is "success", "failure", "blocked", or "error".
	Outcome string

	// Metadata holds event-specific details (confidence, issue counts).
	Metadata map[string]any
}

// AuditLogger receives audit events.
//
// Thread Safety: implementations must be safe for concurrent use; the
// server emits events from every request goroutine.
type AuditLogger interface {
	LogEvent(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards every event. It is the default.
type NopAuditLogger struct{}

func (NopAuditLogger) LogEvent(context.Context, AuditEvent) error { return nil }

var (
	auditMu sync.RWMutex
	auditor AuditLogger = NopAuditLogger{}
)

// RegisterAuditLogger installs the process-wide audit logger. Call once
// during startup, before serving traffic. A nil logger restores the no-op.
func RegisterAuditLogger(l AuditLogger) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if l == nil {
		auditor = NopAuditLogger{}
		return
	}
	auditor = l
}

// Audit emits an event to the registered logger, filling a zero
// timestamp. Errors are returned to the caller, who decides whether
// auditing failures block the operation.
func Audit(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	auditMu.RLock()
	l := auditor
	auditMu.RUnlock()
	return l.LogEvent(ctx, event)
}
