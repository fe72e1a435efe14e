// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = string(openai.SmallEmbedding3)
	openAISecretPath            = "/run/secrets/openai_api_key"
)

// OpenAIConfig configures an OpenAIClient. Empty fields fall back to the
// environment (OPENAI_API_KEY, OPENAI_MODEL) and then to built-in defaults.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ StructuredClient = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey, err := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY", openAISecretPath)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, defaulting", "model", model)
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(openAIClientConfig(apiKey, cfg.BaseURL)),
		model:  model,
	}, nil
}

// CompleteStructured implements StructuredClient using the json_schema
// response format.
func (o *OpenAIClient) CompleteStructured(ctx context.Context, req StructuredRequest, out any) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.CompleteStructured")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", "openai"),
		attribute.String("llm.model", o.model),
		attribute.String("llm.operation", req.Operation),
	)

	schema, err := SchemaFor(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature:         req.Temperature,
		MaxCompletionTokens: req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: schema,
				Strict: false,
			},
		},
	}

	slog.Debug("Requesting structured completion from OpenAI", "model", o.model, "operation", req.Operation)
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "operation", req.Operation, "error", err)
		return classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		err := newProviderError("openai", 0, "no choices returned")
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		err := newProviderError("openai", 0, "model refused: "+choice.Message.Refusal)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	slog.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason)
	if err := decodeStructured(req.SchemaName, schema, choice.Message.Content, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// OpenAIEmbedder embeds text with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	apiKey, err := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY", openAISecretPath)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(openAIClientConfig(apiKey, cfg.BaseURL)),
		model:  openai.EmbeddingModel(model),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", string(e.model)))

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, newProviderError("openai", 0, "no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func openAIClientConfig(apiKey, baseURL string) openai.ClientConfig {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return config
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai request failed: %w", newProviderError("openai", apiErr.HTTPStatusCode, apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai request failed: %w", newProviderError("openai", reqErr.HTTPStatusCode, reqErr.Error()))
	}
	return fmt.Errorf("openai request failed: %w", err)
}

// resolveAPIKey returns explicit, then the named environment variable, then
// the contents of the container secret file.
func resolveAPIKey(explicit, envVar, secretPath string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		if key := strings.TrimSpace(string(content)); key != "" {
			slog.Info("Read API key from container secret", "path", secretPath)
			return key, nil
		}
	}
	slog.Error("API key not set and secret not found", "env", envVar, "path", secretPath)
	return "", fmt.Errorf("%s environment variable not set", envVar)
}
