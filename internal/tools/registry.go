// Package tools implements the tool registry the investigation loop
// dispatches through. Handlers return payload strings; the registry
// guarantees Dispatch never fails the loop — handler errors, panics, and
// unknown tool names all come back as structured failure payloads.
package tools

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/metrics"
)

// Handler executes one tool call. A returned error is converted to a failure
// payload at the registry boundary; handlers may also build failure payloads
// themselves (e.g. NotConfigured) and return them with a nil error.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Registry maps tool names to handlers and serves tool definitions to the
// reasoning step.
type Registry struct {
	mu       sync.RWMutex
	defs     []types.Tool
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a tool. Registering the same name twice replaces the handler
// but keeps a single definition.
func (r *Registry) Register(def types.Tool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[def.Name]; !exists {
		r.defs = append(r.defs, def)
	} else {
		for i := range r.defs {
			if r.defs[i].Name == def.Name {
				r.defs[i] = def
				break
			}
		}
	}
	r.handlers[def.Name] = h
}

// Definitions returns the tool catalog in registration order.
func (r *Registry) Definitions() []types.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Tool, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Name)
	}
	return out
}

// Dispatch executes the named tool and always returns a payload string.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) string {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(name, "unknown").Inc()
		return Failuref("unknown tool: %s", name)
	}

	start := time.Now()
	payload := r.invoke(ctx, name, handler, args)
	elapsed := time.Since(start)

	status := "success"
	if !IsSuccess(payload) {
		status = "failure"
	}
	metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	metrics.ToolCallDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	r.logger.Debug("tool dispatched",
		zap.String("tool", name),
		zap.String("status", status),
		zap.Duration("duration", elapsed),
	)

	return payload
}

// invoke runs the handler with panic containment.
func (r *Registry) invoke(ctx context.Context, name string, handler Handler, args map[string]interface{}) (payload string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				zap.String("tool", name),
				zap.Any("panic", rec),
			)
			payload = Failuref("tool %s panicked: %v", name, rec)
		}
	}()

	result, err := handler(ctx, args)
	if err != nil {
		return Failuref("tool %s failed: %v", name, err)
	}
	return result
}

// IsSuccess reports whether a payload carries "success": true. Malformed
// payloads count as failures.
func IsSuccess(payload string) bool {
	var probe struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return false
	}
	return probe.Success
}
