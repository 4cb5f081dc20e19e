package testutil

import (
	"encoding/json"

	"github.com/hupe1980/taskmesh/core"
)

// RequestBuilder builds core.TaskRequest values for tests.
type RequestBuilder struct {
	request core.TaskRequest
}

// NewRequest starts a builder with a fresh task ID and the given agent type.
func NewRequest(agentType string) *RequestBuilder {
	return &RequestBuilder{request: core.NewTaskRequest(agentType, "test prompt")}
}

// WithTaskID overrides the generated task ID.
func (b *RequestBuilder) WithTaskID(id string) *RequestBuilder {
	b.request.TaskID = id
	return b
}

// WithPrompt sets the prompt text.
func (b *RequestBuilder) WithPrompt(prompt string) *RequestBuilder {
	b.request.Prompt = prompt
	return b
}

// WithOutputPath sets the pass-through output path hint.
func (b *RequestBuilder) WithOutputPath(path string) *RequestBuilder {
	b.request.OutputPath = path
	return b
}

// Build returns the assembled request.
func (b *RequestBuilder) Build() core.TaskRequest { return b.request }

// MustJSON marshals v or panics; for building test payloads inline.
func MustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
