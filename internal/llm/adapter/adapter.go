// Package adapter selects and instruments the LLM provider used for
// reasoning steps.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/config"
	"github.com/incidentops/incident-agent/internal/llm/provider/anthropic"
	"github.com/incidentops/incident-agent/internal/llm/provider/openai"
	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/metrics"
)

// ErrProviderNotConfigured is returned from Complete when no API key was
// supplied for the selected provider. It is loop-fatal: an investigation
// cannot run without a reasoner.
var ErrProviderNotConfigured = errors.New("llm provider not configured")

// Adapter is the reasoning-step interface the investigation loop consumes.
type Adapter interface {
	Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error)
	Provider() string
	Model() string
}

// New builds the adapter for the configured provider. A missing API key
// yields a degraded adapter rather than a construction error, so the service
// can start (and report health) without credentials.
func New(cfg config.LLM, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.APIKey == "" {
		logger.Warn("llm provider has no API key; investigations will fail until one is configured",
			zap.String("provider", cfg.Provider))
		return &degraded{provider: cfg.Provider, model: cfg.Model}, nil
	}

	var (
		inner completer
		err   error
	)
	switch cfg.Provider {
	case "anthropic":
		inner, err = anthropic.NewClient(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case "openai":
		inner, err = openai.NewClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return &instrumented{
		inner:    inner,
		provider: cfg.Provider,
		model:    cfg.Model,
		logger:   logger,
	}, nil
}

type completer interface {
	Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error)
}

// instrumented wraps a provider client with metrics and logging.
type instrumented struct {
	inner    completer
	provider string
	model    string
	logger   *zap.Logger
}

func (a *instrumented) Provider() string { return a.provider }
func (a *instrumented) Model() string    { return a.model }

func (a *instrumented) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error) {
	start := time.Now()
	resp, err := a.inner.Complete(ctx, req)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(a.provider, a.model, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(a.provider, a.model).Observe(elapsed.Seconds())

	if err != nil {
		a.logger.Error("reasoning step failed",
			zap.String("provider", a.provider),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(a.provider, a.model, "input").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(a.provider, a.model, "output").Add(float64(resp.Usage.CompletionTokens))

	a.logger.Debug("reasoning step completed",
		zap.String("provider", a.provider),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", elapsed),
	)
	return resp, nil
}

// degraded stands in when no API key is configured.
type degraded struct {
	provider string
	model    string
}

func (d *degraded) Provider() string { return d.provider }
func (d *degraded) Model() string    { return d.model }

func (d *degraded) Complete(context.Context, types.CompletionRequest) (*types.CompletionResponse, error) {
	return nil, fmt.Errorf("%w: set an API key for provider %q", ErrProviderNotConfigured, d.provider)
}
