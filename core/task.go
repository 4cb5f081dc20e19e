package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus describes the lifecycle state of a task. Pending and Running are
// transient states only ever observed through progress messages; a published
// terminal result always carries Completed, Failed or Cancelled.
type TaskStatus string

const (
	// TaskPending means the task was submitted but no worker picked it up yet.
	TaskPending TaskStatus = "Pending"
	// TaskRunning means a worker is currently executing the task.
	TaskRunning TaskStatus = "Running"
	// TaskCompleted means the executor finished successfully and Data is set.
	TaskCompleted TaskStatus = "Completed"
	// TaskFailed means execution failed and Error carries a sanitized message.
	TaskFailed TaskStatus = "Failed"
	// TaskCancelled means execution was cut short by timeout or worker shutdown.
	TaskCancelled TaskStatus = "Cancelled"
)

// Terminal reports whether the status is one of the three terminal outcomes.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskRequest is the immutable description of one unit of work. It is created
// once by the submitter and never mutated after being handed to the transport.
//
// OutputPath is a pass-through hint for where the caller wants a persisted
// copy of the result written; the broker and dispatcher never interpret it.
type TaskRequest struct {
	TaskID      string    `json:"taskId"`
	AgentType   string    `json:"agentType"`
	Prompt      string    `json:"prompt"`
	SubmittedAt time.Time `json:"submittedAt"`
	OutputPath  string    `json:"outputPath,omitempty"`
}

// NewTaskRequest constructs a request with a fresh TaskID and the current
// UTC submission timestamp.
func NewTaskRequest(agentType, prompt string) TaskRequest {
	return TaskRequest{
		TaskID:      NewTaskID(),
		AgentType:   agentType,
		Prompt:      prompt,
		SubmittedAt: time.Now().UTC(),
	}
}

// TaskResult is the single terminal record published for a task. For a given
// TaskID at most one TaskResult is ever published; the worker dispatcher is
// the sole writer and guarantees single publication on every outcome path.
//
// Data is present iff Status is Completed. Error is present iff Status is
// Failed. DataRef is a transit-only overflow reference: when the serialized
// Data exceeds the broker's overflow threshold the broker stores the payload
// in the ResultStore and publishes the reference instead. Subscribers always
// observe a dereferenced result with DataRef cleared.
type TaskResult struct {
	TaskID      string          `json:"taskId"`
	Status      TaskStatus      `json:"status"`
	Data        json.RawMessage `json:"data,omitempty"`
	DataRef     string          `json:"dataRef,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// NewCompletedResult builds a Completed terminal result carrying data.
func NewCompletedResult(taskID string, data json.RawMessage) TaskResult {
	return TaskResult{TaskID: taskID, Status: TaskCompleted, Data: data, CompletedAt: time.Now().UTC()}
}

// NewFailedResult builds a Failed terminal result carrying a sanitized
// error message. Raw errors and stack traces must never cross the wire.
func NewFailedResult(taskID, errMsg string) TaskResult {
	return TaskResult{TaskID: taskID, Status: TaskFailed, Error: errMsg, CompletedAt: time.Now().UTC()}
}

// NewCancelledResult builds a Cancelled terminal result.
func NewCancelledResult(taskID string) TaskResult {
	return TaskResult{TaskID: taskID, Status: TaskCancelled, CompletedAt: time.Now().UTC()}
}

// TaskProgress is an ephemeral, best-effort status update published between
// submission and the terminal result. Zero or more may be emitted per task
// and none are guaranteed to be observed by any particular subscriber.
type TaskProgress struct {
	TaskID    string    `json:"taskId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTaskProgress builds a progress record with the current UTC timestamp.
func NewTaskProgress(taskID, message string) TaskProgress {
	return TaskProgress{TaskID: taskID, Message: message, Timestamp: time.Now().UTC()}
}

// NewTaskID generates a globally unique, opaque task identifier.
func NewTaskID() string { return uuid.NewString() }
