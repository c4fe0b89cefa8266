// Package driver is the outside-the-sandbox glue: it decodes
// length-delimited activation messages, dispatches them into a workflow's
// activator, and encodes the resulting task completions. Activator errors
// surface as activation failures (infrastructure errors) rather than
// workflow outcomes; the coordinator retries the former and treats the
// latter as terminal.
package driver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockstepd/lockstep/activator"
	"github.com/lockstepd/lockstep/observability"
	"github.com/lockstepd/lockstep/payload"
	"github.com/lockstepd/lockstep/protocol"
	"github.com/lockstepd/lockstep/sandbox"
)

// Config holds driver configuration. All fields are optional.
type Config struct {
	// Registry resolves workflow types to implementations. Defaults to the
	// package-level sandbox registry.
	Registry *sandbox.Registry

	// Converter encodes and decodes user payloads.
	Converter *payload.Converter

	// Hooks receives activation lifecycle callbacks.
	Hooks *observability.Hooks
}

// Workflow is one workflow instance: a sandbox plus its activator. Created
// by Create on first activation; destroyed after the terminal command or on
// explicit release.
type Workflow struct {
	workflowID string
	sb         *sandbox.Sandbox
	activator  *activator.Activator
	hooks      *observability.Hooks

	mu       sync.Mutex
	released bool
}

// Create prepares a fresh workflow instance with default configuration.
func Create(workflowID string) *Workflow {
	return CreateWithConfig(workflowID, Config{})
}

// CreateWithConfig prepares a fresh workflow instance.
func CreateWithConfig(workflowID string, cfg Config) *Workflow {
	sb := sandbox.New(workflowID, cfg.Registry)
	return &Workflow{
		workflowID: workflowID,
		sb:         sb,
		activator:  activator.New(workflowID, sb, cfg.Converter),
		hooks:      cfg.Hooks,
	}
}

// Inject installs a host callback reachable from workflow code by the given
// dotted name.
func (w *Workflow) Inject(name string, fn sandbox.HostFunc) {
	w.sb.Inject(name, fn)
}

// RegisterImplementation binds the instance to a registered workflow type.
func (w *Workflow) RegisterImplementation(workflowType string) error {
	return w.sb.RegisterImplementation(workflowType)
}

// Activate applies one length-delimited encoded activation and returns the
// length-delimited encoded task completion. The task token is opaque and
// echoed verbatim. On error the instance is unusable and must be released.
func (w *Workflow) Activate(ctx context.Context, taskToken []byte, encoded []byte) ([]byte, error) {
	body, _, err := protocol.DecodeDelimited(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode activation frame: %w", err)
	}
	act, err := protocol.UnmarshalActivation(body)
	if err != nil {
		return nil, fmt.Errorf("decode activation: %w", err)
	}

	ct, err := w.ActivateProto(ctx, taskToken, act)
	if err != nil {
		return nil, err
	}

	out, err := protocol.MarshalCompleteTask(ct)
	if err != nil {
		return nil, fmt.Errorf("encode completion: %w", err)
	}
	return protocol.EncodeDelimited(out), nil
}

// ActivateProto is the in-process variant of Activate for callers that
// already hold decoded messages.
func (w *Workflow) ActivateProto(ctx context.Context, taskToken []byte, act *protocol.Activation) (*protocol.CompleteTask, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil, fmt.Errorf("workflow %s already released", w.workflowID)
	}

	start := time.Now()
	w.hooks.SafeActivation(ctx, act.RunID, len(act.Jobs))

	ct, err := w.activator.Activate(taskToken, act)
	if err != nil {
		log.Printf("[Driver] Activation failed for workflow %s: %v", w.workflowID, err)
		w.hooks.SafeWorkflowFinished(ctx, act.RunID, err)
		return nil, err
	}

	w.hooks.SafeCompletion(ctx, act.RunID, len(ct.Completion.Successful.Commands), time.Since(start))
	if w.activator.Completed() {
		w.hooks.SafeWorkflowFinished(ctx, act.RunID, nil)
	}
	return ct, nil
}

// Completed reports whether the workflow has emitted a terminal command.
func (w *Workflow) Completed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activator.Completed()
}

// Release discards the instance. Pending timers are dropped with it; the
// coordinator owns durability, so nothing is persisted here.
func (w *Workflow) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return
	}
	w.released = true
	log.Printf("[Driver] Released workflow %s", w.workflowID)
}

// NewTaskToken mints an opaque task token.
func NewTaskToken() []byte {
	return []byte(uuid.NewString())
}
