// Package worker provides the poll loop that feeds queued activations to
// workflow instances and hands the resulting completions back to the
// coordinator's transport.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockstepd/lockstep/driver"
	"github.com/lockstepd/lockstep/observability"
	"github.com/lockstepd/lockstep/payload"
	"github.com/lockstepd/lockstep/queue"
	"github.com/lockstepd/lockstep/sandbox"
)

// CompletionHandler receives the length-delimited encoded CompleteTask for
// each successfully applied activation.
type CompletionHandler func(ctx context.Context, task *queue.Task, completion []byte) error

// Worker polls activation tasks from a queue and drives workflow instances.
// Distinct runs may be activated concurrently; activations for one run are
// serialized through its instance.
type Worker struct {
	id            string
	queue         queue.Queue
	queueName     string
	registry      *sandbox.Registry
	converter     *payload.Converter
	hooks         *observability.Hooks
	completions   CompletionHandler
	pollInterval  time.Duration
	maxConcurrent int
	maxAttempts   int
	stopCh        chan struct{}
	wg            sync.WaitGroup
	running       bool
	mu            sync.Mutex

	instMu    sync.Mutex
	instances map[string]*instance // runID -> instance
}

// instance pins one run's workflow and serializes its activations.
type instance struct {
	mu sync.Mutex
	wf *driver.Workflow
}

// Config holds worker configuration.
type Config struct {
	ID            string
	Queue         queue.Queue
	QueueName     string
	Registry      *sandbox.Registry
	Converter     *payload.Converter
	Hooks         *observability.Hooks
	Completions   CompletionHandler
	PollInterval  time.Duration
	MaxConcurrent int
	MaxAttempts   int
}

// DefaultConfig returns a default worker configuration.
func DefaultConfig() Config {
	return Config{
		ID:            fmt.Sprintf("worker-%s", uuid.NewString()),
		PollInterval:  time.Second,
		MaxConcurrent: 5,
		MaxAttempts:   3,
	}
}

// New creates a new worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Completions == nil {
		return nil, fmt.Errorf("completion handler is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "default"
	}
	if cfg.ID == "" {
		cfg.ID = DefaultConfig().ID
	}
	if cfg.Registry == nil {
		cfg.Registry = sandbox.DefaultRegistry
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Worker{
		id:            cfg.ID,
		queue:         cfg.Queue,
		queueName:     cfg.QueueName,
		registry:      cfg.Registry,
		converter:     cfg.Converter,
		hooks:         cfg.Hooks,
		completions:   cfg.Completions,
		pollInterval:  cfg.PollInterval,
		maxConcurrent: cfg.MaxConcurrent,
		maxAttempts:   cfg.MaxAttempts,
		stopCh:        make(chan struct{}),
		instances:     make(map[string]*instance),
	}, nil
}

// Start begins polling for and applying activations.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.mu.Unlock()

	log.Printf("[Worker %s] Starting worker on queue %s with %d max concurrent activations",
		w.id, w.queueName, w.maxConcurrent)

	for i := 0; i < w.maxConcurrent; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx, i)
	}

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[Worker %s] Stopping worker...", w.id)

	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Worker %s] Worker stopped gracefully", w.id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop timeout: %w", ctx.Err())
	}
}

// pollLoop continuously polls for activation tasks.
func (w *Worker) pollLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	log.Printf("[Worker %s-%d] Poll loop started", w.id, workerNum)

	for {
		select {
		case <-w.stopCh:
			log.Printf("[Worker %s-%d] Poll loop stopping", w.id, workerNum)
			return
		case <-ctx.Done():
			log.Printf("[Worker %s-%d] Context canceled", w.id, workerNum)
			return
		default:
			w.pollOnce(ctx, workerNum)
		}
	}
}

// pollOnce polls for a single task and applies it.
func (w *Worker) pollOnce(ctx context.Context, workerNum int) {
	// Poll with timeout to allow checking stop signal
	task, err := w.queue.DequeueWithTimeout(ctx, w.queueName, w.pollInterval)
	if err != nil {
		// Timeout or context canceled - this is normal
		return
	}
	if task == nil {
		return
	}

	log.Printf("[Worker %s-%d] Received activation task %s for run %s",
		w.id, workerNum, task.ID, task.RunID)

	if err := w.applyActivation(ctx, task); err != nil {
		// Infrastructure failure: the instance is discarded and the
		// coordinator retries the activation, subject to the attempt cap.
		requeue := task.Attempts < w.maxAttempts
		if nerr := w.queue.Nack(ctx, w.queueName, task.ID, requeue); nerr != nil {
			log.Printf("[Worker %s-%d] Failed to nack task %s: %v",
				w.id, workerNum, task.ID, nerr)
		}
		return
	}

	if err := w.queue.Ack(ctx, w.queueName, task.ID); err != nil {
		log.Printf("[Worker %s-%d] Failed to ack task %s: %v",
			w.id, workerNum, task.ID, err)
	}
}

// applyActivation routes a task to its run's instance, applies it, and
// delivers the completion. A returned error is an infrastructure failure;
// workflow failures are completions and return nil.
func (w *Worker) applyActivation(ctx context.Context, task *queue.Task) error {
	inst := w.instanceFor(task)

	inst.mu.Lock()
	completion, err := inst.wf.Activate(ctx, task.TaskToken, task.Activation)
	inst.mu.Unlock()

	if err != nil {
		log.Printf("[Worker %s] Activation %s failed for run %s: %v", w.id, task.ID, task.RunID, err)
		w.discardInstance(task.RunID, inst)
		return err
	}

	if err := w.completions(ctx, task, completion); err != nil {
		// The activation is already applied; redelivering it to the same
		// instance would violate the protocol, so log and move on.
		log.Printf("[Worker %s] Completion delivery failed for run %s: %v", w.id, task.RunID, err)
	}

	if inst.wf.Completed() {
		log.Printf("[Worker %s] Run %s reached a terminal command", w.id, task.RunID)
		w.discardInstance(task.RunID, inst)
	}
	return nil
}

// instanceFor returns the run's pinned instance, creating it on first use.
func (w *Worker) instanceFor(task *queue.Task) *instance {
	w.instMu.Lock()
	defer w.instMu.Unlock()

	if inst, ok := w.instances[task.RunID]; ok {
		return inst
	}

	wf := driver.CreateWithConfig(task.WorkflowID, driver.Config{
		Registry:  w.registry,
		Converter: w.converter,
		Hooks:     w.hooks,
	})
	if task.WorkflowType != "" {
		if err := wf.RegisterImplementation(task.WorkflowType); err != nil {
			log.Printf("[Worker %s] %v; run %s will resolve the type at start", w.id, err, task.RunID)
		}
	}
	inst := &instance{wf: wf}
	w.instances[task.RunID] = inst
	return inst
}

// discardInstance releases a run's sandbox and forgets it.
func (w *Worker) discardInstance(runID string, inst *instance) {
	w.instMu.Lock()
	if cur, ok := w.instances[runID]; ok && cur == inst {
		delete(w.instances, runID)
	}
	w.instMu.Unlock()
	inst.wf.Release()
}
