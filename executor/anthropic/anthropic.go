// Package anthropic provides a core.Executor backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/taskmesh/core"
)

// Options configure the Anthropic executor (model id, max tokens,
// temperature, system instruction, API key). Extend via functional options to
// preserve stability.
type Options struct {
	Model       anthropic.Model
	Instruction string
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Result is the structured payload the executor returns as TaskResult data.
type Result struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	StopReason string `json:"stopReason"`
}

// Executor wraps the Anthropic Messages API behind the core.Executor interface.
type Executor struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic executor using the official client.
func New(optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Executor{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic executor from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{client: client, opts: opts}
}

// Execute sends the prompt to the Messages API and returns the concatenated
// text blocks as structured JSON.
func (e *Executor) Execute(ctx context.Context, prompt string, onProgress core.ProgressFunc) (json.RawMessage, error) {
	if onProgress != nil {
		onProgress(fmt.Sprintf("calling %s", e.opts.Model))
	}

	params := anthropic.MessageNewParams{
		Model:       e.opts.Model,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if e.opts.Instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: e.opts.Instruction}}
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	if onProgress != nil {
		onProgress("model call completed")
	}

	payload, err := json.Marshal(Result{
		Text:       sb.String(),
		Model:      string(resp.Model),
		StopReason: string(resp.StopReason),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return payload, nil
}
