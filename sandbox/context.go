package sandbox

import (
	"fmt"
	"log"
	"time"

	"github.com/lockstepd/lockstep/scheduler"
)

// TimerStarter registers a timer with the host runtime and returns the
// future resolved when the matching fire arrives. The activator installs it
// when building a Context.
type TimerStarter func(ms int64) *scheduler.Future

// Context is the only surface workflow code sees: logical time, the
// deterministic scheduler, seeded randomness, and injected host callbacks.
// There is deliberately no file, network, or real-clock access here.
type Context struct {
	sandbox    *Sandbox
	startTimer TimerStarter
}

// NewContext builds the workflow-facing context with the given timer hook.
func (s *Sandbox) NewContext(startTimer TimerStarter) *Context {
	return &Context{sandbox: s, startTimer: startTimer}
}

// WorkflowID returns the unique identifier of this workflow execution.
func (c *Context) WorkflowID() string {
	return c.sandbox.workflowID
}

// Now returns the workflow's logical time. The value is constant for the
// whole duration of an activation and non-decreasing across activations.
func (c *Context) Now() time.Time {
	return time.UnixMilli(c.sandbox.nowMs).UTC()
}

// Random returns a deterministic pseudorandom value in [0, 1).
func (c *Context) Random() float64 {
	return c.sandbox.Random()
}

// Loop exposes the microtask loop for creating futures and aggregators.
func (c *Context) Loop() *scheduler.Loop {
	return c.sandbox.loop
}

// Sleep registers a timer and returns a future resolved when the
// coordinator delivers the matching fire. Durations round down to whole
// milliseconds.
func (c *Context) Sleep(d time.Duration) *scheduler.Future {
	return c.startTimer(d.Milliseconds())
}

// Log routes to the injected "console.log" callback if present, otherwise
// to the process logger.
func (c *Context) Log(args ...any) {
	if fn, ok := c.sandbox.Host("console.log"); ok {
		fn(args...)
		return
	}
	log.Printf("[Workflow %s] %v", c.sandbox.workflowID, args)
}

// Invoke calls an injected host callback by name.
func (c *Context) Invoke(name string, args ...any) (any, error) {
	fn, ok := c.sandbox.Host(name)
	if !ok {
		return nil, fmt.Errorf("host function %s not injected", name)
	}
	return fn(args...), nil
}
