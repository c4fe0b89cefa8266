package worker

import (
	"context"
	"testing"
	"time"

	"github.com/lockstepd/lockstep/driver"
	"github.com/lockstepd/lockstep/protocol"
	"github.com/lockstepd/lockstep/queue"
	"github.com/lockstepd/lockstep/sandbox"
)

func testRegistry(t *testing.T) *sandbox.Registry {
	t.Helper()
	r := sandbox.NewRegistry()
	err := r.Register(&sandbox.Definition{
		Name: "sleeper",
		Impl: sandbox.Func(func(ctx *sandbox.Context, args []any) (any, error) {
			return ctx.Sleep(100 * time.Millisecond), nil
		}),
	})
	if err != nil {
		t.Fatalf("failed to register workflow: %v", err)
	}
	return r
}

func encodedActivation(t *testing.T, act *protocol.Activation) []byte {
	t.Helper()
	b, err := protocol.MarshalActivation(act)
	if err != nil {
		t.Fatalf("failed to marshal activation: %v", err)
	}
	return protocol.EncodeDelimited(b)
}

func decodeCompletion(t *testing.T, encoded []byte) *protocol.CompleteTask {
	t.Helper()
	body, _, err := protocol.DecodeDelimited(encoded)
	if err != nil {
		t.Fatalf("completion is not length-delimited: %v", err)
	}
	ct, err := protocol.UnmarshalCompleteTask(body)
	if err != nil {
		t.Fatalf("failed to decode completion: %v", err)
	}
	return ct
}

func TestWorker_New(t *testing.T) {
	q := queue.NewInMemoryQueue()
	defer q.Close()

	// Queue and completion handler are required
	if _, err := New(Config{Completions: func(context.Context, *queue.Task, []byte) error { return nil }}); err == nil {
		t.Error("expected error without queue")
	}
	if _, err := New(Config{Queue: q}); err == nil {
		t.Error("expected error without completion handler")
	}

	w, err := New(Config{
		Queue:       q,
		Completions: func(context.Context, *queue.Task, []byte) error { return nil },
	})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	if w.queueName != "default" {
		t.Errorf("expected default queue name, got %s", w.queueName)
	}
	if w.maxConcurrent != 5 {
		t.Errorf("expected default max concurrent 5, got %d", w.maxConcurrent)
	}
}

func TestWorker_DrivesWorkflowThroughActivations(t *testing.T) {
	q := queue.NewInMemoryQueue()
	defer q.Close()

	completions := make(chan []byte, 2)
	w, err := New(Config{
		Queue:    q,
		Registry: testRegistry(t),
		Completions: func(ctx context.Context, task *queue.Task, completion []byte) error {
			completions <- completion
			return nil
		},
		PollInterval:  50 * time.Millisecond,
		MaxConcurrent: 1,
	})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}

	ctx := context.Background()
	w.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.Stop(stopCtx)
	}()

	token := driver.NewTaskToken()
	start := encodedActivation(t, &protocol.Activation{
		RunID:     "run-1",
		Timestamp: protocol.MsToTimestamp(1000),
		Jobs: []*protocol.Job{
			{StartWorkflow: &protocol.StartWorkflowJob{
				WorkflowID:   "wf-1",
				WorkflowType: "sleeper",
			}},
		},
	})
	task := queue.NewTask("run-1", "wf-1", token, start)
	task.WorkflowType = "sleeper"
	if err := q.Enqueue(ctx, "default", task); err != nil {
		t.Fatalf("failed to enqueue start task: %v", err)
	}

	var first []byte
	select {
	case first = <-completions:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first completion")
	}
	ct := decodeCompletion(t, first)
	cmds := ct.Completion.Successful.Commands
	if len(cmds) != 1 || cmds[0].GetStartTimerCommandAttributes() == nil {
		t.Fatalf("expected single start timer command, got %v", cmds)
	}
	if cmds[0].GetStartTimerCommandAttributes().GetTimerId() != "0" {
		t.Errorf("expected timer id \"0\", got %q", cmds[0].GetStartTimerCommandAttributes().GetTimerId())
	}

	fire := encodedActivation(t, &protocol.Activation{
		RunID:     "run-1",
		Timestamp: protocol.MsToTimestamp(1100),
		Jobs:      []*protocol.Job{{FireTimer: &protocol.FireTimerJob{TimerID: "0"}}},
	})
	fireTask := queue.NewTask("run-1", "wf-1", token, fire)
	if err := q.Enqueue(ctx, "default", fireTask); err != nil {
		t.Fatalf("failed to enqueue fire task: %v", err)
	}

	var second []byte
	select {
	case second = <-completions:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second completion")
	}
	ct = decodeCompletion(t, second)
	cmds = ct.Completion.Successful.Commands
	if len(cmds) != 1 || cmds[0].GetCompleteWorkflowExecutionCommandAttributes() == nil {
		t.Fatalf("expected single complete command, got %v", cmds)
	}

	// The run reached a terminal command, so its instance is discarded.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.instMu.Lock()
		n := len(w.instances)
		w.instMu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected instance to be discarded, %d still pinned", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorker_InfraFailureNacksAndDiscards(t *testing.T) {
	q := queue.NewInMemoryQueue()
	defer q.Close()

	completions := make(chan []byte, 1)
	w, err := New(Config{
		Queue:    q,
		Registry: testRegistry(t),
		Completions: func(ctx context.Context, task *queue.Task, completion []byte) error {
			completions <- completion
			return nil
		},
		PollInterval:  50 * time.Millisecond,
		MaxConcurrent: 1,
		MaxAttempts:   1,
	})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}

	ctx := context.Background()
	w.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.Stop(stopCtx)
	}()

	// A fire for a timer that was never started is a protocol violation:
	// no completion is produced and the instance is discarded.
	bad := encodedActivation(t, &protocol.Activation{
		RunID:     "run-bad",
		Timestamp: protocol.MsToTimestamp(1000),
		Jobs:      []*protocol.Job{{FireTimer: &protocol.FireTimerJob{TimerID: "0"}}},
	})
	task := queue.NewTask("run-bad", "wf-bad", driver.NewTaskToken(), bad)
	if err := q.Enqueue(ctx, "default", task); err != nil {
		t.Fatalf("failed to enqueue task: %v", err)
	}

	select {
	case c := <-completions:
		t.Fatalf("expected no completion for protocol violation, got %v", decodeCompletion(t, c))
	case <-time.After(500 * time.Millisecond):
	}

	w.instMu.Lock()
	n := len(w.instances)
	w.instMu.Unlock()
	if n != 0 {
		t.Errorf("expected failed instance to be discarded, %d still pinned", n)
	}
}
