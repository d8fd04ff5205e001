// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reason provides the client stack for the external reasoning
// service consulted by assisted validation layers and the refinement
// controller.
//
// # Description
//
// Callers talk to a Client; the concrete stack layers rate limiting,
// bounded retry with exponential backoff, and a circuit breaker around the
// raw transport. Every consumer of this package must treat a failure as
// "no opinion" rather than an error worth surfacing: assisted validation
// is fail-open by contract.
package reason

import "context"

// Params tunes a single completion request.
type Params struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Request is one reasoning call.
type Request struct {
	// System is the role/system prompt.
	System string `json:"system,omitempty"`

	// Prompt is the user prompt.
	Prompt string `json:"prompt"`

	// JSONOnly asks the service to respond with a single JSON object.
	JSONOnly bool `json:"json_only,omitempty"`

	// Params are optional generation parameters.
	Params Params `json:"params,omitempty"`
}

// Response is the raw completion text.
type Response struct {
	Content string `json:"content"`
}

// Client is the standard interface for any reasoning backend.
type Client interface {
	// Complete runs one completion. Implementations must honor ctx
	// cancellation.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name identifies the backend for logging.
	Name() string
}
