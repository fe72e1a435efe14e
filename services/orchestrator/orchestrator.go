// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the homeops HTTP service together.
//
// New builds every component from a config.Config: logging, tracing, the
// LLM client, the documentation retriever, the house profile store, the
// session store, the troubleshooting workflow, the answer pipeline and the
// parts helper.
// Run serves the API until its context is cancelled.
//
// # Extension Points
//
// extensions.ServiceOptions injects an AuthProvider and an AuditLogger.
// When they are nil, New uses a static bearer token (if server.api_token is
// set) and an slog-backed audit log.
//
// # Usage
//
//	settings, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(orchestrator.Config{Settings: settings}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	err = svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/homeops/pkg/config"
	"github.com/AleutianAI/homeops/pkg/extensions"
	"github.com/AleutianAI/homeops/pkg/logging"
	"github.com/AleutianAI/homeops/services/llm"
	"github.com/AleutianAI/homeops/services/orchestrator/middleware"
	"github.com/AleutianAI/homeops/services/orchestrator/observability"
	"github.com/AleutianAI/homeops/services/orchestrator/routes"
	"github.com/AleutianAI/homeops/services/orchestrator/services"
	"github.com/AleutianAI/homeops/services/partshelper"
	"github.com/AleutianAI/homeops/services/profile"
	"github.com/AleutianAI/homeops/services/retrieval"
	"github.com/AleutianAI/homeops/services/safety"
	"github.com/AleutianAI/homeops/services/troubleshooter"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName identifies the process in traces and logs.
const ServiceName = "homeops-orchestrator"

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Description
//
// A Service is fully initialized by New. Run serves HTTP until the context
// is cancelled and then drains in-flight requests. Close releases resources
// for a Service that is never run.
//
// # Thread Safety
//
// Run is called at most once. Router and Close are safe at any time.
type Service interface {
	// Run starts the HTTP server and blocks until ctx is cancelled or the
	// listener fails. A cancelled ctx is a clean shutdown and returns nil.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine.
	Router() *gin.Engine

	// Close releases the tracer, profile watcher and log file. Run calls
	// it on return; calling it again is a no-op.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds everything New needs. Only Settings is required.
type Config struct {
	Settings *config.Config

	// Client replaces the configured LLM backend when set. It is used as
	// is, without the retry and rate-limit wrapper.
	Client llm.StructuredClient

	// Retriever replaces both Weaviate retrievers when set.
	Retriever retrieval.Retriever

	// Registry receives the service metrics and backs /metrics.
	// Default: a new registry with the Go and process collectors.
	Registry *prometheus.Registry

	// LogOutput overrides the console log destination.
	LogOutput io.Writer
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	settings *config.Config
	opts     extensions.ServiceOptions

	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	client    llm.StructuredClient
	retriever retrieval.Retriever
	// partsRetriever is configured for partshelper.DefaultTopK results.
	partsRetriever retrieval.Retriever
	profiles       *profile.Store
	sessions  *troubleshooter.SessionStore

	troubleshoot *services.TroubleshootService
	answers      *services.AnswerPipeline
	parts        *services.PartsService

	router        *gin.Engine
	tracerCleanup func(context.Context)
	closeOnce     sync.Once
}

// New builds the service.
//
// # Description
//
// Components are built leaf first. Any failure releases what was already
// built and returns the error. Weaviate is not contacted here; the
// retriever connects on first use. A profile directory that cannot be
// watched only disables hot reload.
//
// # Inputs
//
//   - cfg: Settings plus optional test overrides.
//   - opts: Extension points. nil uses the defaults described on the package.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Invalid settings or a component that failed to initialize.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	if cfg.Settings == nil {
		return nil, errors.New("orchestrator: settings are required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	s := &service{
		settings:  cfg.Settings,
		registry:  cfg.Registry,
		client:    cfg.Client,
		retriever:      cfg.Retriever,
		partsRetriever: cfg.Retriever,
	}

	s.initLogger(cfg.LogOutput)
	s.initOptions(opts)

	cleanup, err := s.initTracer()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.initMetrics()

	if s.client == nil {
		if err := s.initLLMClient(); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	if s.retriever == nil {
		if err := s.initRetriever(); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize retriever: %w", err)
		}
	}

	s.initProfiles()

	if err := s.initServices(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	server := &http.Server{
		Addr:              s.settings.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	slog.Info("Starting orchestrator server", "addr", server.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close implements Service.
func (s *service) Close() error {
	s.cleanup()
	return nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initLogger installs the configured logger as the slog default so package
// level slog calls share its handlers.
func (s *service) initLogger(out io.Writer) {
	level, err := logging.ParseLevel(s.settings.Log.Level)
	s.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  s.settings.Log.Dir,
		Service: ServiceName,
		JSON:    s.settings.Log.JSON,
		Output:  out,
	})
	if err != nil {
		s.logger.Warn("Unknown log level, using info", "level", s.settings.Log.Level)
	}
	slog.SetDefault(s.logger.Slog())
}

func (s *service) initOptions(opts *extensions.ServiceOptions) {
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.AuthProvider == nil && s.settings.Server.APIToken != "" {
		s.opts.AuthProvider = extensions.NewStaticTokenProvider(s.settings.Server.APIToken)
		slog.Info("Bearer token auth enabled for API routes")
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = extensions.NewSlogAuditLogger(s.logger.Slog())
	}
	s.opts = s.opts.Normalize()
}

// initTracer installs the global tracer provider.
//
// # Description
//
// "otlp" exports over an insecure gRPC connection to telemetry.otel_endpoint,
// "stdout" pretty-prints spans to stderr, and "none" leaves the global no-op
// provider in place.
//
// # Outputs
//
//   - func(context.Context): Flushes and stops the provider. nil for "none".
//   - error: Non-nil if the exporter cannot be created.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.settings.Telemetry.Exporter {
	case "none", "":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	case "otlp":
		conn, err := grpc.NewClient(s.settings.Telemetry.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", s.settings.Telemetry.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	slog.Info("Tracing enabled", "exporter", s.settings.Telemetry.Exporter)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}
	return cleanup, nil
}

func (s *service) initMetrics() {
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = observability.NewMetrics(s.registry)
}

// initLLMClient builds the configured backend and wraps it with retries,
// per-attempt timeouts and the optional rate limit.
func (s *service) initLLMClient() error {
	llmCfg := s.settings.LLM

	var base llm.StructuredClient
	var err error
	switch llmCfg.Backend {
	case "openai":
		base, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			Model:   llmCfg.Model,
			BaseURL: llmCfg.BaseURL,
		})
		slog.Info("Using OpenAI LLM backend")
	case "anthropic":
		base, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			Model:   llmCfg.Model,
			BaseURL: llmCfg.BaseURL,
			Timeout: llmCfg.Timeout,
		})
		slog.Info("Using Anthropic LLM backend")
	case "ollama":
		base, err = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: llmCfg.BaseURL,
			Model:   llmCfg.Model,
			Timeout: llmCfg.Timeout,
		})
		slog.Info("Using Ollama LLM backend")
	default:
		return fmt.Errorf("unknown LLM backend %q", llmCfg.Backend)
	}
	if err != nil {
		return err
	}

	s.client = llm.NewResilientClient(base, llm.ResilienceOptions{
		Timeout:           llmCfg.Timeout,
		MaxRetries:        llmCfg.MaxRetries,
		RequestsPerSecond: llmCfg.RequestsPerSecond,
		Observe:           s.metrics.ObserveLLMCall,
	})
	return nil
}

// initRetriever builds the Weaviate retrievers. They share one embedder and
// differ only in TopK. Embeddings always come from the OpenAI embeddings API;
// the base URL is shared only with the openai chat backend.
func (s *service) initRetriever() error {
	rag := s.settings.RAG

	embedCfg := llm.OpenAIConfig{Model: rag.EmbeddingModel}
	if s.settings.LLM.Backend == "openai" {
		embedCfg.BaseURL = s.settings.LLM.BaseURL
	}
	embedder, err := llm.NewOpenAIEmbedder(embedCfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	newRetriever := func(topK int) (*retrieval.WeaviateRetriever, error) {
		return retrieval.NewWeaviateRetriever(
			retrieval.WeaviateConfig{URL: rag.WeaviateURL, ClassName: rag.ClassName},
			embedder,
			retrieval.Options{
				TopK:          topK,
				MinRelevance:  rag.MinRelevanceScore,
				RerankEnabled: rag.RerankEnabled,
				RerankTopN:    rag.RerankTopN,
			},
			s.metrics,
		)
	}
	retriever, err := newRetriever(rag.TopK)
	if err != nil {
		return err
	}
	partsRetriever, err := newRetriever(partshelper.DefaultTopK)
	if err != nil {
		return err
	}
	s.retriever = retriever
	s.partsRetriever = partsRetriever
	slog.Info("Weaviate retriever configured", "url", rag.WeaviateURL, "class", rag.ClassName)
	return nil
}

func (s *service) initProfiles() {
	s.profiles = profile.NewStore(s.settings.ProfilePath())
	if err := s.profiles.Watch(); err != nil {
		slog.Warn("House profile hot reload disabled", "path", s.profiles.Path(), "error", err)
	}
}

// initServices builds the safety matcher, the workflow and the API services
// on top of the shared client and retrievers.
func (s *service) initServices() error {
	matcher, err := safety.NewMatcher()
	if err != nil {
		return fmt.Errorf("failed to load safety patterns: %w", err)
	}
	assessor, err := troubleshooter.NewRiskAssessor(matcher, s.client)
	if err != nil {
		return fmt.Errorf("failed to create risk assessor: %w", err)
	}
	workflow, err := troubleshooter.New(troubleshooter.Config{
		Retriever: s.retriever,
		Assessor:  assessor,
		Client:    s.client,
		Metrics:   s.metrics,
		Audit:     s.opts.AuditLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	s.sessions = troubleshooter.NewSessionStore(troubleshooter.SessionOptions{
		TTL:         s.settings.Session.TTL,
		MaxSessions: s.settings.Session.MaxSessions,
		Metrics:     s.metrics,
	})

	s.troubleshoot, err = services.NewTroubleshootService(workflow, s.sessions, s.profiles, s.opts.AuditLogger)
	if err != nil {
		return fmt.Errorf("failed to create troubleshoot service: %w", err)
	}

	s.answers, err = services.NewAnswerPipeline(services.AnswerConfig{
		Retriever:     s.retriever,
		Client:        s.client,
		RerankEnabled: s.settings.RAG.RerankEnabled,
		MinRelevance:  s.settings.RAG.MinRelevanceScore,
		Temperature:   s.settings.LLM.Temperature,
		MaxTokens:     s.settings.LLM.MaxTokens,
		Metrics:       s.metrics,
		Audit:         s.opts.AuditLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to create answer pipeline: %w", err)
	}

	helper, err := partshelper.New(partshelper.Config{Retriever: s.partsRetriever, Client: s.client})
	if err != nil {
		return fmt.Errorf("failed to create parts helper: %w", err)
	}
	s.parts, err = services.NewPartsService(helper, s.profiles)
	if err != nil {
		return fmt.Errorf("failed to create parts service: %w", err)
	}
	return nil
}

// initRouter sets up the Gin engine. Middleware order: panic recovery,
// CORS, tracing, then request ids so every span and log line has one.
func (s *service) initRouter() {
	gin.SetMode(s.settings.Server.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	if origins := s.settings.Server.CORSOrigins; len(origins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = origins
		corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
		corsCfg.ExposeHeaders = []string{middleware.RequestIDHeader}
		corsCfg.AllowCredentials = true
		corsCfg.MaxAge = 12 * time.Hour
		s.router.Use(cors.New(corsCfg))
	}

	s.router.Use(otelgin.Middleware(ServiceName))
	s.router.Use(middleware.RequestID())

	routes.SetupRoutes(s.router, routes.Deps{
		Troubleshooter: s.troubleshoot,
		Asker:          s.answers,
		Parts:          s.parts,
		Metrics:        s.metrics,
		Gatherer:       s.registry,
	}, s.opts)
}

// cleanup releases everything New acquired. It runs once.
func (s *service) cleanup() {
	s.closeOnce.Do(func() {
		if s.profiles != nil {
			if err := s.profiles.Close(); err != nil {
				slog.Warn("profile watcher close error", "error", err)
			}
		}
		if s.opts.AuditLogger != nil {
			if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
				slog.Warn("audit flush error", "error", err)
			}
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
		if s.logger != nil {
			_ = s.logger.Close()
		}
	})
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
