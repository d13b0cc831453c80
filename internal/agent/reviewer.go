package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harmonia-ai/harmonia/internal/graph"
	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

const reviewerDraftPrompt = `Review the following submission and produce structured review notes.

Submission: %s`

const reviewerMergePrompt = `Combine your review notes with the consulted assistant's assessment into a final review.

Your notes:
%s

Assistant's assessment:
%s`

// NewReviewer builds the review specialization. Mid-graph it consults the
// assistant agent for a second opinion, which moves the task through the
// tool_call sub-state and back:
//
//	draft -> consult -> merge -> finalize -> End
func NewReviewer(logger *slog.Logger) (*Runtime, error) {
	e := graph.NewEngine[State](graph.WithObserver[State](TraceObserver()))

	if err := e.RegisterNode("draft", reviewerDraft); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("consult", reviewerConsult); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("merge", reviewerMerge); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("finalize", finalizeResponse); err != nil {
		return nil, err
	}

	e.AddEdge("draft", "consult")
	e.AddEdge("consult", "merge")
	e.AddEdge("merge", "finalize")
	e.AddEdge("finalize", graph.End)
	e.SetEntry("draft")

	return NewRuntime("reviewer", "Reviewer", e, logger)
}

func reviewerDraft(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(20, "draft")

	resp, err := ec.LLM.Invoke(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(reviewerDraftPrompt, s.Command)),
	})
	if err != nil {
		s.Error = fmt.Sprintf("model invocation failed: %v", err)
		s.CurrentStep = "draft"
		return s, nil
	}

	s.Plan = resp.Content
	s.CurrentStep = "draft"
	return s, nil
}

// reviewerConsult runs the nested assistant invocation. The consultation
// moves the task into tool_call; once it returns, this node transitions the
// task back to in_progress before handing off to merge.
func reviewerConsult(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	s.CurrentStep = "consult"

	if s.Error != "" || ec.Consult == nil {
		// Nothing to consult about, or consultation unavailable: the merge
		// node works with what it has.
		return s, nil
	}

	result, err := ec.Consult(ctx, "assistant", fmt.Sprintf("Give a short independent assessment of: %s", s.Command))
	if err != nil {
		return s, fmt.Errorf("consultation: %w", err)
	}

	// The consultation is advisory: a failed nested run degrades the review
	// instead of failing the task.
	if result.Success {
		s.Consultation = result.Response
	}

	if err := ec.Progress.StatusChange(models.TaskStatusToolCall, models.TaskStatusInProgress); err != nil {
		return s, fmt.Errorf("resume after consultation: %w", err)
	}
	return s, nil
}

func reviewerMerge(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(80, "merge")
	s.CurrentStep = "merge"

	if s.Error != "" {
		return s, nil
	}
	if s.Consultation == "" {
		s.FinalResponse = s.Plan
		return s, nil
	}

	resp, err := ec.LLM.Invoke(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(reviewerMergePrompt, s.Plan, s.Consultation)),
	})
	if err != nil {
		s.Error = fmt.Sprintf("model invocation failed: %v", err)
		return s, nil
	}

	s.FinalResponse = resp.Content
	return s, nil
}
