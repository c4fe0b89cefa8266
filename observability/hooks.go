package observability

import (
	"context"
	"time"
)

// Hooks provides optional callbacks for logging, metrics, and tracing without
// introducing dependencies in the core library. All functions are optional.
type Hooks struct {
	// Logf logs a structured message with a severity level and key-value fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnActivation is called before an activation is dispatched into a sandbox.
	OnActivation func(ctx context.Context, runID string, jobs int)
	// OnCompletion is called after an activation quiesces, before its
	// completion is encoded, with the number of commands it carries.
	OnCompletion func(ctx context.Context, runID string, commands int, latency time.Duration)
	// OnWorkflowFinished is called when a workflow emits its terminal command
	// or its instance is discarded after an activation failure.
	OnWorkflowFinished func(ctx context.Context, runID string, err error)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeActivation invokes OnActivation if configured.
func (h *Hooks) SafeActivation(ctx context.Context, runID string, jobs int) {
	if h != nil && h.OnActivation != nil {
		h.OnActivation(ctx, runID, jobs)
	}
}

// SafeCompletion invokes OnCompletion if configured.
func (h *Hooks) SafeCompletion(ctx context.Context, runID string, commands int, latency time.Duration) {
	if h != nil && h.OnCompletion != nil {
		h.OnCompletion(ctx, runID, commands, latency)
	}
}

// SafeWorkflowFinished invokes OnWorkflowFinished if configured.
func (h *Hooks) SafeWorkflowFinished(ctx context.Context, runID string, err error) {
	if h != nil && h.OnWorkflowFinished != nil {
		h.OnWorkflowFinished(ctx, runID, err)
	}
}
