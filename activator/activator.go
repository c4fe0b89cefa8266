// Package activator drives one workflow through its activations. It
// translates activation jobs into user-code entry points, accumulates the
// commands the workflow emits, and returns them as a task completion once
// the scheduler has quiesced. User failures become a terminal fail command;
// protocol violations and codec failures abort the activation instead and
// leave the instance unusable.
package activator

import (
	"errors"
	"fmt"
	"strconv"

	commandpb "go.temporal.io/api/command/v1"

	"github.com/lockstepd/lockstep/payload"
	"github.com/lockstepd/lockstep/protocol"
	"github.com/lockstepd/lockstep/sandbox"
	"github.com/lockstepd/lockstep/scheduler"
)

var (
	// ErrUnknownTimer reports a timer fire for an id that was never started
	// or has already fired. The coordinator and worker have diverged.
	ErrUnknownTimer = errors.New("timer fired for unknown timer id")

	// ErrTimeRegression reports an activation timestamp earlier than the
	// workflow's current logical time.
	ErrTimeRegression = errors.New("activation timestamp regressed")

	// ErrAlreadyCompleted reports an activation delivered after the workflow
	// emitted its terminal command.
	ErrAlreadyCompleted = errors.New("workflow already completed")

	// ErrAlreadyStarted reports a second start job for the same workflow.
	ErrAlreadyStarted = errors.New("workflow already started")
)

// Activator owns one workflow's identity, logical clock, timer table, and
// command buffer. It is driven by exactly one goroutine; the driver never
// re-enters Activate for the same workflow until the previous call returns.
type Activator struct {
	workflowID string
	sb         *sandbox.Sandbox
	converter  *payload.Converter
	ctx        *sandbox.Context

	nowMs       int64
	started     bool
	completed   bool
	nextTimerID int
	timers      map[string]scheduler.ResolveFunc
	commands    []*commandpb.Command

	// fatal records an infrastructure error raised inside a continuation,
	// where it cannot be returned directly.
	fatal error
}

// New wires an activator to a sandbox. The sandbox's unhandled-rejection
// path is pointed at the activator's failure handler.
func New(workflowID string, sb *sandbox.Sandbox, conv *payload.Converter) *Activator {
	if conv == nil {
		conv = payload.NewConverter()
	}
	a := &Activator{
		workflowID: workflowID,
		sb:         sb,
		converter:  conv,
		timers:     make(map[string]scheduler.ResolveFunc),
	}
	a.ctx = sb.NewContext(a.startTimer)
	sb.Loop().SetUnhandledRejectionHandler(a.failWorkflow)
	return a
}

// Context returns the workflow-facing context bound to this activator.
func (a *Activator) Context() *sandbox.Context {
	return a.ctx
}

// Completed reports whether the workflow has emitted a terminal command.
func (a *Activator) Completed() bool {
	return a.completed
}

// Activate applies one activation: advance logical time, dispatch each job
// in order, drain the scheduler to quiescence, and return the accumulated
// commands. Errors are infrastructure failures; the caller must discard the
// instance and report an activation failure, not a workflow outcome.
func (a *Activator) Activate(taskToken []byte, act *protocol.Activation) (*protocol.CompleteTask, error) {
	if a.completed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, a.workflowID)
	}

	a.commands = nil
	a.fatal = nil

	ts := protocol.TimestampToMs(act.Timestamp)
	if a.started && ts < a.nowMs {
		return nil, fmt.Errorf("%w: have %dms, got %dms", ErrTimeRegression, a.nowMs, ts)
	}
	a.nowMs = ts
	a.sb.SetNow(ts)

	for _, job := range act.Jobs {
		switch {
		case job.StartWorkflow != nil:
			if err := a.handleStartWorkflow(job.StartWorkflow); err != nil {
				return nil, err
			}
		case job.FireTimer != nil:
			if err := a.handleFireTimer(job.FireTimer); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("activation job has no variant set")
		}
	}

	a.sb.Loop().Drain()

	if a.fatal != nil {
		return nil, a.fatal
	}
	return protocol.NewSuccessfulCompletion(taskToken, a.commands), nil
}

// handleStartWorkflow locates the implementation, decodes the arguments,
// and invokes the workflow's top level. A synchronous return or throw
// settles the workflow immediately; a returned future settles it later.
func (a *Activator) handleStartWorkflow(job *protocol.StartWorkflowJob) error {
	if a.started {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, a.workflowID)
	}
	a.started = true

	def, err := a.sb.Implementation(job.WorkflowType)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	args, err := a.converter.FromPayloads(job.Arguments)
	if err != nil {
		return fmt.Errorf("decode workflow arguments: %w", err)
	}

	result, userErr := a.invoke(def.Impl, args)
	if userErr != nil {
		a.failWorkflow(userErr)
		return nil
	}
	if f, ok := result.(*scheduler.Future); ok {
		f.Then(
			func(v any) (any, error) {
				a.completeWorkflow(v)
				return nil, nil
			},
			func(err error) (any, error) {
				a.failWorkflow(err)
				return nil, nil
			},
		)
		return nil
	}
	a.completeWorkflow(result)
	return a.fatal
}

// handleFireTimer resolves the matching entry in the timer table. A fire
// for an unknown id is a protocol violation, not a workflow failure.
func (a *Activator) handleFireTimer(job *protocol.FireTimerJob) error {
	resolve, ok := a.timers[job.TimerID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTimer, job.TimerID)
	}
	delete(a.timers, job.TimerID)
	resolve(nil)
	return nil
}

// invoke runs user code, converting panics into ordinary workflow failures.
func (a *Activator) invoke(impl sandbox.Implementation, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = rerr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return impl.Execute(a.ctx, args)
}

// startTimer assigns the next timer id, emits a start timer command, and
// registers the resolver. Timer ids are strictly increasing decimal strings
// starting at "0", assigned at request time.
func (a *Activator) startTimer(ms int64) *scheduler.Future {
	id := strconv.Itoa(a.nextTimerID)
	a.nextTimerID++

	f, resolve, _ := a.sb.Loop().NewFuture()
	a.timers[id] = resolve
	a.commands = append(a.commands, protocol.StartTimerCommand(id, ms))
	return f
}

// completeWorkflow emits the terminal success command. A nil result encodes
// as a single binary/null payload. Encoding failures are infrastructure
// errors and recorded as fatal.
func (a *Activator) completeWorkflow(v any) {
	if a.completed {
		return
	}
	ps, err := a.converter.ToPayloads(v)
	if err != nil {
		a.fatal = fmt.Errorf("encode workflow result: %w", err)
		return
	}
	a.completed = true
	a.commands = append(a.commands, protocol.CompleteWorkflowCommand(ps))
}

// failWorkflow emits the terminal failure command. Failures after the
// workflow has settled are ignored. Pending timers stay in the table, but
// once the workflow has completed Activate rejects every later activation,
// including a fire for such a timer, with ErrAlreadyCompleted.
func (a *Activator) failWorkflow(err error) {
	if a.completed {
		return
	}
	a.completed = true
	a.commands = append(a.commands, protocol.FailWorkflowCommand(err.Error()))
}
