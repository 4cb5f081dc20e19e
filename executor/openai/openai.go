// Package openai provides a core.Executor backed by the OpenAI Chat
// Completions API. It forwards the task prompt as a single user message and
// returns the completion as a structured JSON payload, keeping the result
// contract typed for downstream consumers.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/taskmesh/core"
)

// Options configure the OpenAI executor. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options without breaking
// callers.
type Options struct {
	Model               string
	Instruction         string
	Temperature         float64
	MaxCompletionTokens int64
}

// Result is the structured payload the executor returns as TaskResult data.
type Result struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finishReason"`
}

// Executor wraps the OpenAI Chat Completions API behind the core.Executor interface.
type Executor struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI executor using the official client (API key from
// the environment).
func New(optFns ...func(o *Options)) *Executor {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI executor from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{client: client, opts: opts}
}

// Execute sends the prompt to the Chat Completions API and returns the
// completion as structured JSON. Progress is reported before and after the
// model call; delivery is best-effort by contract.
func (e *Executor) Execute(ctx context.Context, prompt string, onProgress core.ProgressFunc) (json.RawMessage, error) {
	if onProgress != nil {
		onProgress(fmt.Sprintf("calling %s", e.opts.Model))
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if e.opts.Instruction != "" {
		messages = append(messages, openai.SystemMessage(e.opts.Instruction))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               e.opts.Model,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	if onProgress != nil {
		onProgress("model call completed")
	}

	payload, err := json.Marshal(Result{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return payload, nil
}
