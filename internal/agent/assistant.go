package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harmonia-ai/harmonia/internal/graph"
	"github.com/harmonia-ai/harmonia/internal/llm"
)

const assistantSystemPrompt = `You are a general-purpose assistant. Answer the user's command directly and concisely.`

const assistantClassifyPrompt = `Classify the following command. Reply with exactly one word:
"respond" if it is a reasonable request you can answer,
"refuse" if it asks for something harmful or impossible.

Command: %s`

// NewAssistant builds the general assistant specialization: a classify node
// routes between answering and refusing, and a finalize node produces the
// terminal response either way.
//
//	classify -> respond -> finalize -> End
//	         \-> refuse -/
func NewAssistant(logger *slog.Logger) (*Runtime, error) {
	e := graph.NewEngine[State](graph.WithObserver[State](TraceObserver()))

	if err := e.RegisterNode("classify", assistantClassify); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("respond", assistantRespond); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("refuse", assistantRefuse); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("finalize", finalizeResponse); err != nil {
		return nil, err
	}

	e.AddConditionalEdge("classify", routeByAction, map[string]string{
		"respond": "respond",
		"refuse":  "refuse",
	})
	e.AddEdge("respond", "finalize")
	e.AddEdge("refuse", "finalize")
	e.AddEdge("finalize", graph.End)
	e.SetEntry("classify")

	return NewRuntime("assistant", "General Assistant", e, logger)
}

// routeByAction is the shared router over the classification decision.
func routeByAction(s State) string {
	return s.ActionType
}

func assistantClassify(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(10, "classify")

	s.ActionType = "respond"
	resp, err := ec.LLM.Invoke(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(assistantClassifyPrompt, s.Command)),
	})
	if err != nil {
		// Classification is advisory: an unreachable model is a recoverable
		// condition, not a fault. Route to refuse with a reason.
		s.ActionType = "refuse"
		s.Error = fmt.Sprintf("classification unavailable: %v", err)
	} else if strings.Contains(strings.ToLower(resp.Content), "refuse") {
		s.ActionType = "refuse"
	}

	s.CurrentStep = "classify"
	return s, nil
}

func assistantRespond(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(50, "respond")

	resp, err := ec.LLM.Invoke(ctx, []llm.Message{
		llm.SystemMessage(assistantSystemPrompt),
		llm.UserMessage(s.Command),
	})
	if err != nil {
		s.Error = fmt.Sprintf("model invocation failed: %v", err)
		s.CurrentStep = "respond"
		return s, nil
	}

	s.FinalResponse = resp.Content
	s.CurrentStep = "respond"
	return s, nil
}

func assistantRefuse(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(50, "refuse")

	if s.Error == "" {
		s.Error = "command refused"
	}
	s.FinalResponse = "I can't help with that request."
	s.CurrentStep = "refuse"
	return s, nil
}

// finalizeResponse is shared by every specialization: it surfaces whatever
// outcome the graph produced and reports completion of the last node. A
// state that reaches finalization with neither a response nor an error is a
// node contract bug, recorded as an error so the task never completes empty.
func finalizeResponse(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(100, "finalize")

	if s.FinalResponse == "" && s.Error == "" {
		s.Error = "graph produced no response"
	}
	s.CurrentStep = "finalize"
	return s, nil
}
