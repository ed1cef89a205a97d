package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// Run property keys holding accumulated token usage
const (
	PropInputTokens  = "llm.input_tokens"
	PropOutputTokens = "llm.output_tokens"
)

// PromptFunc renders a node input into a completion request
type PromptFunc[I any] func(props *orchestration.Properties, in I) (Request, error)

// ParseFunc turns the completion into the node output
type ParseFunc[I, O any] func(in I, res *Response) (O, error)

// NewNode creates a per-input node that calls c once per input
func NewNode[I, O any](name string, c Completer, prompt PromptFunc[I], parse ParseFunc[I, O], opts ...orchestration.NodeOption) *orchestration.Node[I, O] {
	return orchestration.NewNode(name, func(ctx context.Context, props *orchestration.Properties, in I) (O, error) {
		var zero O

		req, err := prompt(props, in)
		if err != nil {
			return zero, fmt.Errorf("failed to render prompt: %w", err)
		}

		res, err := c.Complete(ctx, req)
		if err != nil {
			return zero, err
		}
		if strings.TrimSpace(res.Text) == "" {
			return zero, ErrEmptyCompletion
		}
		AddUsage(props, res)

		return parse(in, res)
	}, opts...)
}

// NewTextNode creates a node whose output is the completion text
func NewTextNode[I any](name string, c Completer, prompt PromptFunc[I], opts ...orchestration.NodeOption) *orchestration.Node[I, string] {
	return NewNode(name, c, prompt, func(_ I, res *Response) (string, error) {
		return strings.TrimSpace(res.Text), nil
	}, opts...)
}

// AddUsage accumulates the token counts of res into props
func AddUsage(props *orchestration.Properties, res *Response) {
	add := func(n int64) func(any, bool) any {
		return func(old any, ok bool) any {
			if prev, isInt := old.(int64); ok && isInt {
				return prev + n
			}
			return n
		}
	}
	props.Update(PropInputTokens, add(res.InputTokens))
	props.Update(PropOutputTokens, add(res.OutputTokens))
}
