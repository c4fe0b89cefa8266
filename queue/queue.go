// Package queue provides activation transport interfaces and
// implementations for delivering coordinator activations to workers.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task carries one encoded activation to a worker. Activation holds the
// length-delimited wire form; the queue never looks inside it.
type Task struct {
	ID           string                 `json:"id"`
	RunID        string                 `json:"run_id"`
	WorkflowID   string                 `json:"workflow_id"`
	WorkflowType string                 `json:"workflow_type,omitempty"`
	TaskToken    []byte                 `json:"task_token"`
	Activation   []byte                 `json:"activation"`
	Metadata     map[string]interface{} `json:"metadata"`
	EnqueueTime  time.Time              `json:"enqueue_time"`
	Attempts     int                    `json:"attempts"`
}

// Queue defines the interface for activation distribution.
type Queue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, queueName string, task *Task) error

	// Dequeue retrieves a task from the queue (blocking)
	Dequeue(ctx context.Context, queueName string) (*Task, error)

	// DequeueWithTimeout retrieves a task with a timeout
	DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Task, error)

	// Ack acknowledges successful task completion
	Ack(ctx context.Context, queueName string, taskID string) error

	// Nack indicates task failure and potentially requeues
	Nack(ctx context.Context, queueName string, taskID string, requeue bool) error

	// Len returns the number of tasks in the queue
	Len(ctx context.Context, queueName string) (int, error)

	// Close closes the queue and releases resources
	Close() error
}

// NewTask creates a new activation task with generated ID.
func NewTask(runID, workflowID string, taskToken, activation []byte) *Task {
	return &Task{
		ID:          uuid.NewString(),
		RunID:       runID,
		WorkflowID:  workflowID,
		TaskToken:   taskToken,
		Activation:  activation,
		Metadata:    make(map[string]interface{}),
		EnqueueTime: time.Now().UTC(),
		Attempts:    0,
	}
}
