// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reason

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests.
//
// Responses are consumed in order; when the script is exhausted the last
// entry repeats. A nil error with empty script returns an empty response.
type MockClient struct {
	mu        sync.Mutex
	script    []MockReply
	calls     int
	lastReq   Request
	clientErr error
}

// MockReply is one scripted response.
type MockReply struct {
	Content string
	Err     error
}

// NewMockClient builds a client that replays the given script.
func NewMockClient(script ...MockReply) *MockClient {
	return &MockClient{script: script}
}

// FailingMockClient returns a client whose every call fails with err.
func FailingMockClient(err error) *MockClient {
	return &MockClient{clientErr: err}
}

// Name implements the Client interface.
func (m *MockClient) Name() string {
	return "mock"
}

// Complete implements the Client interface.
func (m *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastReq = req
	if m.clientErr != nil {
		return Response{}, m.clientErr
	}
	if len(m.script) == 0 {
		return Response{}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	reply := m.script[idx]
	if reply.Err != nil {
		return Response{}, reply.Err
	}
	return Response{Content: reply.Content}, nil
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request seen.
func (m *MockClient) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}
