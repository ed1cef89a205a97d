package graphs

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/tickgraph/pkg/adapters/llm"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

func TestEcho(t *testing.T) {
	orch, err := Echo()
	require.NoError(t, err)
	require.NoError(t, orch.Validate())

	results, err := orch.RunAny(context.Background(), map[string]any{"hello": "world"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"hello": "world"}}, results)
	assert.Equal(t, orchestration.StateCompleted, orch.State())
}

func TestEchoBuildsFreshGraphs(t *testing.T) {
	a, err := Echo()
	require.NoError(t, err)
	b, err := Echo()
	require.NoError(t, err)
	assert.NotEqual(t, a.Entry().ID(), b.Entry().ID())
}

func TestText(t *testing.T) {
	orch, err := Text(orchestration.WithStepLog(true))
	require.NoError(t, err)

	results, err := orch.RunAny(context.Background(), TextInput{Text: "  hello   wörld\n\n second line "})
	require.NoError(t, err)

	reports, ok := orchestration.ResultsAs[TextReport](orch)
	require.True(t, ok)
	require.Len(t, results, 1)
	require.Len(t, reports, 1)

	report := reports[0]
	assert.Equal(t, "Hello Wörld", report.Title)
	assert.Equal(t, TextStats{Words: 4, Runes: 23, Lines: 2}, report.Stats)
	assert.Equal(t, 2, report.Sections)

	steps := orch.Steps()
	require.Len(t, steps, 3)
	assert.Len(t, steps[1].Nodes, 2, "title and stats run in the same tick")
	assert.Len(t, steps[2].Nodes, 1, "report combines both sections")
	assert.Empty(t, steps[3].Nodes)
}

func TestTextEmptyInputFails(t *testing.T) {
	orch, err := Text()
	require.NoError(t, err)

	_, err = orch.RunAny(context.Background(), TextInput{Text: " \n "})
	var nodeErr *orchestration.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "normalize", nodeErr.NodeName)
	assert.Equal(t, orchestration.StateFailed, orch.State())
}

func TestNormalizeComposesRunes(t *testing.T) {
	out, err := normalizeText(context.Background(), nil, TextInput{Text: "café"})
	require.NoError(t, err)
	assert.Equal(t, "café", out)
	assert.Equal(t, 4, countText(out).Runes)
}

func TestLanguageTag(t *testing.T) {
	assert.Equal(t, "und", languageTag("").String())
	assert.Equal(t, "und", languageTag("not a tag!").String())
	assert.Equal(t, "nl", languageTag("nl").String())
}

func reviewer(approveAt int32) (llm.Completer, *atomic.Int32) {
	var reviews atomic.Int32
	return llm.CompleterFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if req.System == reviewSystem {
			if reviews.Add(1) >= approveAt {
				return &llm.Response{Text: "APPROVED"}, nil
			}
			return &llm.Response{Text: "add an example"}, nil
		}
		text := "answer"
		if strings.Contains(req.Prompt, "add an example") {
			text = "answer with example"
		}
		return &llm.Response{Text: text, InputTokens: 1, OutputTokens: 1}, nil
	}), &reviews
}

func TestAgentLoopsUntilApproved(t *testing.T) {
	c, reviews := reviewer(2)
	orch, err := Agent(c, 3)()
	require.NoError(t, err)

	_, err = orch.RunAny(context.Background(), Brief{Task: "explain ticks"})
	require.NoError(t, err)

	answers, ok := orchestration.ResultsAs[Answer](orch)
	require.True(t, ok)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Approved)
	assert.Equal(t, 2, answers[0].Rounds)
	assert.Equal(t, "answer with example", answers[0].Text)
	assert.EqualValues(t, 2, reviews.Load())

	tokens, _ := orchestration.PropertyAs[int64](orch.Properties(), llm.PropInputTokens)
	assert.EqualValues(t, 2, tokens, "one token per draft call")
}

func TestAgentStopsAfterRounds(t *testing.T) {
	c, _ := reviewer(100)
	orch, err := Agent(c, 2)()
	require.NoError(t, err)

	_, err = orch.RunAny(context.Background(), Brief{Task: "explain ticks"})
	require.NoError(t, err)

	answers, _ := orchestration.ResultsAs[Answer](orch)
	require.Len(t, answers, 1)
	assert.False(t, answers[0].Approved)
	assert.Equal(t, 2, answers[0].Rounds)
}

func TestAgentRejectsEmptyTask(t *testing.T) {
	c, _ := reviewer(1)
	orch, err := Agent(c, 0)()
	require.NoError(t, err)

	_, err = orch.RunAny(context.Background(), Brief{})
	assert.Error(t, err)
}
