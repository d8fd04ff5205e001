// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reason

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI-compatible reasoning backend.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the environment.
//
// The API key comes from OPENAI_API_KEY, falling back to the container
// secret at /run/secrets/openai_api_key. OPENAI_BASE_URL points the client
// at any OpenAI-compatible endpoint (vLLM, llama.cpp server).
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the reasoning API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Info("Initializing reasoning client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Name implements the Client interface.
func (o *OpenAIClient) Name() string {
	return "openai/" + o.model
}

// Complete implements the Client interface.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	slog.Debug("Requesting completion", "backend", o.Name())

	system := req.System
	if system == "" {
		system = "You are a meticulous code reviewer."
	}

	oreq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.JSONOnly {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.Params.Temperature != nil {
		oreq.Temperature = *req.Params.Temperature
	}
	if req.Params.MaxTokens != nil {
		oreq.MaxCompletionTokens = *req.Params.MaxTokens
	}
	if req.Params.TopP != nil {
		oreq.TopP = *req.Params.TopP
	}
	if len(req.Params.Stop) > 0 {
		oreq.Stop = req.Params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		slog.Error("Reasoning API call failed", "backend", o.Name(), "error", err)
		return Response{}, fmt.Errorf("reasoning API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Reasoning service returned no choices")
		return Response{}, fmt.Errorf("reasoning service returned no choices")
	}
	slog.Debug("Received completion", "finish_reason", resp.Choices[0].FinishReason)
	return Response{Content: resp.Choices[0].Message.Content}, nil
}
