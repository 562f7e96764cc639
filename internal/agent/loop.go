package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/llm/types"
	"github.com/incidentops/incident-agent/internal/metrics"
	"github.com/incidentops/incident-agent/internal/tools"
)

// Reasoner is one reasoning step: the transcript and tool catalog in, either
// a final text answer or tool-call requests out.
type Reasoner interface {
	Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResponse, error)
}

// Loop drives one investigation: build context, invoke the reasoner,
// dispatch requested tools, merge evidence, advance the phase, and decide
// when to stop.
type Loop struct {
	reasoner Reasoner
	registry *tools.Registry
	logger   *zap.Logger
	events   EventSink

	// parallelTools fans out multiple tool calls from one reasoning step
	// concurrently. Results are appended in request order either way.
	parallelTools bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithEventSink publishes loop progress events to the given sink.
func WithEventSink(sink EventSink) Option {
	return func(l *Loop) { l.events = sink }
}

// WithParallelTools enables concurrent dispatch of tool calls requested in a
// single reasoning step.
func WithParallelTools(enabled bool) Option {
	return func(l *Loop) { l.parallelTools = enabled }
}

// NewLoop creates an investigation loop. logger may be nil.
func NewLoop(reasoner Reasoner, registry *tools.Registry, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		reasoner: reasoner,
		registry: registry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the investigation to completion and returns a single result.
// Reasoner failures and cancellation abort the run with Success=false;
// tool-level failures are structured payloads the model sees and reacts to.
// Evidence gathered before a failure remains readable on the Investigation.
func (l *Loop) Run(ctx context.Context, inv *Investigation) *Result {
	start := time.Now()
	toolCalls := 0

	log := l.logger.With(
		zap.String("investigation_id", inv.ID),
		zap.String("service", inv.Alert.Service),
	)
	log.Info("investigation started",
		zap.String("alert", inv.Alert.AlertName),
		zap.String("severity", inv.Alert.Severity),
	)

	for {
		if err := ctx.Err(); err != nil {
			return l.fail(inv, start, toolCalls, fmt.Errorf("investigation cancelled: %w", err))
		}

		// Phase advancement runs at the start of each cycle after the first,
		// from the previous cycle's post-increment count.
		if inv.Iteration > 0 {
			if next := Advance(inv.Phase, inv.Iteration); next != inv.Phase {
				log.Info("phase advanced",
					zap.String("from", string(inv.Phase)),
					zap.String("to", string(next)),
					zap.Int("iteration", inv.Iteration),
				)
				inv.Phase = next
				l.emit(inv, EventPhaseChanged, "", string(next))
			}
		}

		if inv.Iteration == 0 {
			inv.append(types.Message{Role: types.RoleUser, Content: beginMessage(inv.Alert)})
		} else {
			inv.append(types.Message{Role: types.RoleUser, Content: contextBlock(inv)})
		}

		resp, err := l.reasoner.Complete(ctx, types.CompletionRequest{
			System:   systemPrompt,
			Messages: inv.Messages,
			Tools:    l.registry.Definitions(),
		})
		if err != nil {
			return l.fail(inv, start, toolCalls, fmt.Errorf("reasoning step: %w", err))
		}

		inv.append(types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		l.emit(inv, EventReasoning, "", resp.Content)

		if len(resp.ToolCalls) > 0 {
			if err := l.dispatchAll(ctx, inv, resp.ToolCalls); err != nil {
				return l.fail(inv, start, toolCalls, err)
			}
			toolCalls += len(resp.ToolCalls)
		}

		inv.Iteration++

		if inv.Iteration >= inv.MaxIterations || inv.lastMessage().IsFinal() {
			break
		}
	}

	result := &Result{
		Success:          true,
		Summary:          Synthesize(inv.Messages),
		DurationMs:       time.Since(start).Milliseconds(),
		DeploymentsFound: inv.Evidence.Deployments(),
		ToolCalls:        toolCalls,
		FinalPhase:       inv.Phase,
	}

	metrics.InvestigationsTotal.WithLabelValues(inv.Alert.Severity, "completed").Inc()
	metrics.InvestigationDuration.WithLabelValues(string(inv.Phase)).Observe(time.Since(start).Seconds())
	metrics.InvestigationIterations.Observe(float64(inv.Iteration))
	metrics.DeploymentsFound.Observe(float64(len(result.DeploymentsFound)))

	log.Info("investigation completed",
		zap.String("final_phase", string(inv.Phase)),
		zap.Int("iterations", inv.Iteration),
		zap.Int("tool_calls", toolCalls),
		zap.Int("deployments_found", len(result.DeploymentsFound)),
		zap.Duration("duration", time.Since(start)),
	)
	l.emit(inv, EventCompleted, "", result.Summary)

	return result
}

// dispatchAll runs every requested tool call, appends each result to the
// transcript in request order, and merges evidence serially. The only error
// it can return is cancellation mid-dispatch.
func (l *Loop) dispatchAll(ctx context.Context, inv *Investigation, calls []types.ToolCall) error {
	payloads := make([]string, len(calls))

	for _, call := range calls {
		l.emit(inv, EventToolCall, call.Name, "")
	}

	if l.parallelTools && len(calls) > 1 {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call types.ToolCall) {
				defer wg.Done()
				payloads[i] = l.registry.Dispatch(ctx, call.Name, call.Arguments)
			}(i, call)
		}
		wg.Wait()
	} else {
		for i, call := range calls {
			payloads[i] = l.registry.Dispatch(ctx, call.Name, call.Arguments)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("investigation cancelled during tool dispatch: %w", err)
	}

	for i, call := range calls {
		inv.append(types.Message{
			Role:       types.RoleTool,
			Content:    payloads[i],
			ToolCallID: call.ID,
		})
		inv.Evidence.MergePayload(payloads[i])
		l.emit(inv, EventToolResult, call.Name, payloads[i])
	}
	return nil
}

func (l *Loop) fail(inv *Investigation, start time.Time, toolCalls int, err error) *Result {
	metrics.InvestigationsTotal.WithLabelValues(inv.Alert.Severity, "failed").Inc()

	l.logger.Error("investigation failed",
		zap.String("investigation_id", inv.ID),
		zap.Int("iteration", inv.Iteration),
		zap.Error(err),
	)
	l.emit(inv, EventFailed, "", err.Error())

	return &Result{
		Success:    false,
		Error:      err.Error(),
		DurationMs: time.Since(start).Milliseconds(),
		ToolCalls:  toolCalls,
		FinalPhase: inv.Phase,
	}
}
