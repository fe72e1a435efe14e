// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads homeops settings.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. an optional YAML file (homeops.yaml unless overridden)
//  3. environment variables prefixed HOMEOPS_, with "__" as the nesting
//     separator: HOMEOPS_RAG__TOP_K=10 sets rag.top_k
//
// A .env file in the working directory is read before the environment is
// consulted. Existing environment variables are never overwritten by it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "HOMEOPS_"

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "homeops.yaml"

// Config is the full homeops configuration tree.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	RAG       RAGConfig       `koanf:"rag"`
	Paths     PathsConfig     `koanf:"paths"`
	Session   SessionConfig   `koanf:"session"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port        int      `koanf:"port" validate:"min=1,max=65535"`
	GinMode     string   `koanf:"gin_mode" validate:"oneof=debug release test"`
	CORSOrigins []string `koanf:"cors_origins"`
	// APIToken enables bearer auth on the API routes when non-empty.
	APIToken string `koanf:"api_token"`
}

type LLMConfig struct {
	Backend           string        `koanf:"backend" validate:"oneof=openai anthropic ollama"`
	Model             string        `koanf:"model"`
	BaseURL           string        `koanf:"base_url"`
	Temperature       float32       `koanf:"temperature" validate:"min=0,max=2"`
	MaxTokens         int           `koanf:"max_tokens" validate:"min=1"`
	Timeout           time.Duration `koanf:"timeout" validate:"min=0"`
	MaxRetries        int           `koanf:"max_retries" validate:"min=0,max=10"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"min=0"`
}

type RAGConfig struct {
	TopK              int     `koanf:"top_k" validate:"min=1,max=20"`
	MinRelevanceScore float64 `koanf:"min_relevance_score" validate:"min=0,max=1"`
	RerankEnabled     bool    `koanf:"rerank_enabled"`
	RerankTopN        int     `koanf:"rerank_top_n" validate:"min=1,max=20"`
	EmbeddingModel    string  `koanf:"embedding_model" validate:"required"`
	WeaviateURL       string  `koanf:"weaviate_url"`
	ClassName         string  `koanf:"class_name" validate:"required"`
}

type PathsConfig struct {
	HouseProfile string `koanf:"house_profile" validate:"required"`
}

type SessionConfig struct {
	TTL         time.Duration `koanf:"ttl" validate:"gt=0"`
	MaxSessions int           `koanf:"max_sessions" validate:"min=1"`
}

type TelemetryConfig struct {
	OTelEndpoint string `koanf:"otel_endpoint"`
	Exporter     string `koanf:"exporter" validate:"oneof=otlp stdout none"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `koanf:"dir"`
	JSON  bool   `koanf:"json"`
}

var defaults = map[string]any{
	"server.port":             12210,
	"server.gin_mode":         "release",
	"server.cors_origins":     []string{"http://localhost:5173", "http://localhost:3000"},
	"llm.backend":             "openai",
	"llm.model":               "gpt-4o-mini",
	"llm.temperature":         0.3,
	"llm.max_tokens":          1000,
	"llm.timeout":             60 * time.Second,
	"llm.max_retries":         3,
	"llm.requests_per_second": 0.0,
	"rag.top_k":               5,
	"rag.min_relevance_score": 0.3,
	"rag.rerank_enabled":      false,
	"rag.rerank_top_n":        5,
	"rag.embedding_model":     "text-embedding-3-small",
	"rag.weaviate_url":        "http://localhost:8080",
	"rag.class_name":          "HomeDocument",
	"paths.house_profile":     "data/house_profile.json",
	"session.ttl":             time.Hour,
	"session.max_sessions":    100,
	"telemetry.otel_endpoint": "localhost:4317",
	"telemetry.exporter":      "none",
	"log.level":               "info",
}

var validate = validator.New()

// Load reads configuration from path (DefaultFile when empty) and the
// environment. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path == "" {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps HOMEOPS_RAG__TOP_K to rag.top_k.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks every range and enum constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// ProfilePath returns the house profile path, honoring the legacy
// HOUSE_PROFILE_PATH variable when HOMEOPS_PATHS__HOUSE_PROFILE is unset.
func (c *Config) ProfilePath() string {
	if _, ok := os.LookupEnv(EnvPrefix + "PATHS__HOUSE_PROFILE"); !ok {
		if legacy := os.Getenv("HOUSE_PROFILE_PATH"); legacy != "" {
			return legacy
		}
	}
	return c.Paths.HouseProfile
}
