// Package llm provides LLM completion clients and LLM-backed graph nodes.
//
// The factory creates a Completer based on provider configuration.
// Currently supports:
//   - Anthropic Claude
//
// NewNode wraps a Completer as an orchestration node: the node renders its
// input into a Request, calls the model and parses the reply into its output
// type. Token usage is accumulated in the run properties under
// PropInputTokens and PropOutputTokens.
package llm
