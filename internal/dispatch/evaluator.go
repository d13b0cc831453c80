package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// Evaluator is the post-hoc quality hook run after a task completes. It is
// strictly advisory: the dispatcher logs evaluation failures and never rolls
// back a completed task because of one.
type Evaluator interface {
	Evaluate(ctx context.Context, task *models.Task, result models.ExecutionResult) error
}

const evaluatePrompt = `Rate how well the response answers the command on a scale of 1 to 5.
Reply with the number only.

Command: %s

Response: %s`

// LLMEvaluator scores completed responses with a model call.
type LLMEvaluator struct {
	client llm.Client
	logger *slog.Logger
}

// NewLLMEvaluator creates an evaluator backed by the given client.
func NewLLMEvaluator(client llm.Client, logger *slog.Logger) *LLMEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMEvaluator{client: client, logger: logger}
}

// Evaluate asks the model for a 1-5 score and logs it.
func (e *LLMEvaluator) Evaluate(ctx context.Context, task *models.Task, result models.ExecutionResult) error {
	resp, err := e.client.Invoke(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(evaluatePrompt, task.Command, result.Response)),
	})
	if err != nil {
		return fmt.Errorf("evaluation call: %w", err)
	}

	score, err := parseScore(resp.Content)
	if err != nil {
		return fmt.Errorf("evaluation response %q: %w", resp.Content, err)
	}

	e.logger.Info("task evaluated",
		"task_id", task.ID,
		"agent_id", task.AgentID,
		"score", score,
	)
	return nil
}

func parseScore(s string) (int, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty score")
	}
	score, err := strconv.Atoi(strings.TrimSuffix(fields[0], "."))
	if err != nil {
		return 0, err
	}
	if score < 1 || score > 5 {
		return 0, fmt.Errorf("score %d out of range", score)
	}
	return score, nil
}
