package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harmonia-ai/harmonia/internal/graph"
	"github.com/harmonia-ai/harmonia/internal/llm"
)

// SearchFunc is the external web-search collaborator. The provider behind
// it is out of scope; the researcher only needs result snippets.
type SearchFunc func(ctx context.Context, query string) ([]string, error)

const researcherPlanPrompt = `Produce a single short web search query that would best answer this command. Reply with the query only.

Command: %s`

const researcherSynthesizePrompt = `Answer the command using only the search results below. Be concise.

Command: %s

Results:
%s`

// Researcher is the web-research specialization. Its graph plans a query,
// runs the external search, and synthesizes an answer from the results:
//
//	plan -> search -> synthesize -> finalize -> End
//	              \-> no_results -/
//
// An empty result set is a recoverable condition: the no_results node
// encodes a friendly failure and execution still reaches finalization.
type Researcher struct {
	search SearchFunc
}

// NewResearcher builds the researcher runtime around the given search
// collaborator.
func NewResearcher(search SearchFunc, logger *slog.Logger) (*Runtime, error) {
	r := &Researcher{search: search}
	e := graph.NewEngine[State](graph.WithObserver[State](TraceObserver()))

	if err := e.RegisterNode("plan", r.plan); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("search", r.runSearch); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("synthesize", r.synthesize); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("no_results", r.noResults); err != nil {
		return nil, err
	}
	if err := e.RegisterNode("finalize", finalizeResponse); err != nil {
		return nil, err
	}

	e.AddEdge("plan", "search")
	e.AddConditionalEdge("search", routeByAction, map[string]string{
		"synthesize": "synthesize",
		"no_results": "no_results",
	})
	e.AddEdge("synthesize", "finalize")
	e.AddEdge("no_results", "finalize")
	e.AddEdge("finalize", graph.End)
	e.SetEntry("plan")

	return NewRuntime("researcher", "Web Researcher", e, logger)
}

func (r *Researcher) plan(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(15, "plan")

	s.Plan = s.Command
	resp, err := ec.LLM.Invoke(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(researcherPlanPrompt, s.Command)),
	})
	if err == nil && strings.TrimSpace(resp.Content) != "" {
		s.Plan = strings.TrimSpace(resp.Content)
	}
	// A failed planning call falls back to searching the raw command.

	s.CurrentStep = "plan"
	return s, nil
}

func (r *Researcher) runSearch(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(40, "search")
	s.CurrentStep = "search"

	if r.search == nil {
		s.ActionType = "no_results"
		s.Error = "search provider not configured"
		return s, nil
	}

	results, err := r.search(ctx, s.Plan)
	if err != nil {
		s.ActionType = "no_results"
		s.Error = fmt.Sprintf("search failed: %v", err)
		return s, nil
	}
	if len(results) == 0 {
		s.ActionType = "no_results"
		s.Error = fmt.Sprintf("no results for query %q", s.Plan)
		return s, nil
	}

	s.SearchResults = results
	s.ActionType = "synthesize"
	return s, nil
}

func (r *Researcher) synthesize(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(75, "synthesize")

	resp, err := ec.LLM.Invoke(ctx, []llm.Message{
		llm.UserMessage(fmt.Sprintf(researcherSynthesizePrompt, s.Command, strings.Join(s.SearchResults, "\n"))),
	})
	if err != nil {
		s.Error = fmt.Sprintf("model invocation failed: %v", err)
		s.CurrentStep = "synthesize"
		return s, nil
	}

	s.FinalResponse = resp.Content
	s.CurrentStep = "synthesize"
	return s, nil
}

func (r *Researcher) noResults(ctx context.Context, s State) (State, error) {
	ec := ExecutionFrom(ctx)
	_ = ec.Progress.ProgressUpdate(75, "no_results")

	s.FinalResponse = fmt.Sprintf("I couldn't find anything for %q.", s.Plan)
	s.CurrentStep = "no_results"
	return s, nil
}
