package graphs

import (
	"context"
	"fmt"
	"strings"

	"github.com/aescanero/tickgraph/pkg/adapters/llm"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// AgentName is the catalog name of the agent graph
const AgentName = "agent"

// DefaultAgentRounds bounds the draft and review loop
const DefaultAgentRounds = 3

const approvedVerdict = "APPROVED"

const (
	draftSystem  = "You write concise, correct answers. Reply with the answer only."
	reviewSystem = "You review answers. Reply APPROVED if the answer is correct and complete. " +
		"Otherwise reply with short, actionable feedback."
)

// Brief is the input of the draft node
type Brief struct {
	Task     string `json:"task"`
	Feedback string `json:"feedback,omitempty"`
	Round    int    `json:"round,omitempty"`
}

// Draft is a candidate answer
type Draft struct {
	Task  string `json:"task"`
	Text  string `json:"text"`
	Round int    `json:"round"`
}

// Review is the verdict on a draft
type Review struct {
	Draft    Draft  `json:"draft"`
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// Answer is the output of the agent graph
type Answer struct {
	Task     string `json:"task"`
	Text     string `json:"text"`
	Approved bool   `json:"approved"`
	Rounds   int    `json:"rounds"`
}

// Agent returns a factory for the draft -> review loop on c. Unapproved reviews
// go back to draft with the feedback until rounds is reached.
func Agent(c llm.Completer, rounds int) func(opts ...orchestration.Option) (orchestration.Executable, error) {
	if rounds <= 0 {
		rounds = DefaultAgentRounds
	}

	return func(opts ...orchestration.Option) (orchestration.Executable, error) {
		draft := llm.NewNode("draft", c, draftPrompt, func(in Brief, res *llm.Response) (Draft, error) {
			return Draft{Task: in.Task, Text: strings.TrimSpace(res.Text), Round: in.Round + 1}, nil
		})

		review := llm.NewNode("review", c, reviewPrompt, parseReview)

		finalize := orchestration.NewNode("finalize", finalizeAnswer, orchestration.AsDeadEnd())

		done := func(r Review) bool { return r.Approved || r.Draft.Round >= rounds }

		for _, err := range []error{
			orchestration.Route(draft, review, nil),
			orchestration.Route(review, finalize, done),
			orchestration.RouteVia(review, draft, func(r Review) bool { return !done(r) }, reviseBrief),
		} {
			if err != nil {
				return nil, err
			}
		}

		orch := orchestration.New[Brief, Answer](AgentName, opts...)
		if err := orch.Register(draft, review, finalize); err != nil {
			return nil, err
		}
		if err := orch.SetEntry(draft); err != nil {
			return nil, err
		}
		if err := orch.SetResult(finalize); err != nil {
			return nil, err
		}
		return orch, nil
	}
}

func draftPrompt(_ *orchestration.Properties, in Brief) (llm.Request, error) {
	if strings.TrimSpace(in.Task) == "" {
		return llm.Request{}, fmt.Errorf("task is empty")
	}
	prompt := "Task: " + in.Task
	if in.Feedback != "" {
		prompt += "\n\nA reviewer rejected the previous answer with this feedback:\n" + in.Feedback
	}
	return llm.Request{System: draftSystem, Prompt: prompt}, nil
}

func reviewPrompt(_ *orchestration.Properties, in Draft) (llm.Request, error) {
	return llm.Request{
		System: reviewSystem,
		Prompt: fmt.Sprintf("Task: %s\n\nAnswer:\n%s", in.Task, in.Text),
	}, nil
}

func parseReview(in Draft, res *llm.Response) (Review, error) {
	text := strings.TrimSpace(res.Text)
	if strings.HasPrefix(strings.ToUpper(text), approvedVerdict) {
		return Review{Draft: in, Approved: true}, nil
	}
	return Review{Draft: in, Feedback: text}, nil
}

func reviseBrief(r Review) (Brief, error) {
	return Brief{Task: r.Draft.Task, Feedback: r.Feedback, Round: r.Draft.Round}, nil
}

func finalizeAnswer(_ context.Context, _ *orchestration.Properties, r Review) (Answer, error) {
	return Answer{Task: r.Draft.Task, Text: r.Draft.Text, Approved: r.Approved, Rounds: r.Draft.Round}, nil
}
