// Package protocol defines the wire messages exchanged between the worker
// and the coordinating service: inbound activations and outbound task
// completions. Leaf messages (payloads, commands, failures, timestamps)
// reuse the Temporal API types; the envelope messages here are encoded by
// hand with the protobuf wire package so no generated code is required.
package protocol

import (
	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	failurepb "go.temporal.io/api/failure/v1"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Activation is one driving message for a workflow: the jobs to apply since
// the last completion, stamped with the workflow's new logical time.
type Activation struct {
	RunID     string
	Timestamp *timestamppb.Timestamp
	Jobs      []*Job
}

// Job is a tagged union; exactly one variant is set.
type Job struct {
	StartWorkflow *StartWorkflowJob
	FireTimer     *FireTimerJob
}

// StartWorkflowJob begins execution of a registered workflow implementation.
type StartWorkflowJob struct {
	WorkflowID   string
	WorkflowType string
	Arguments    *commonpb.Payloads
}

// FireTimerJob resolves a previously started timer.
type FireTimerJob struct {
	TimerID string
}

// CompleteTask is the response to one activation. TaskToken echoes the
// opaque token the caller supplied with the activation.
type CompleteTask struct {
	TaskToken  []byte
	Completion *Completion
}

// Completion is a tagged union; exactly one variant is set. Successful
// carries the commands accumulated during the activation. Failed reports an
// activation-level failure (infrastructure, not a workflow outcome).
type Completion struct {
	Successful *Success
	Failed     *failurepb.Failure
}

// Success lists the commands the workflow wishes to emit, in order.
type Success struct {
	Commands []*commandpb.Command
}

// NewSuccessfulCompletion builds a CompleteTask carrying the given commands.
func NewSuccessfulCompletion(taskToken []byte, commands []*commandpb.Command) *CompleteTask {
	return &CompleteTask{
		TaskToken: taskToken,
		Completion: &Completion{
			Successful: &Success{Commands: commands},
		},
	}
}
