// Package agent wraps compiled workflow graphs behind a uniform execution
// contract. Each specialization owns one graph; the dispatcher resolves a
// runtime by agent id and calls Execute without knowing the graph shape.
package agent

// State is the mutable execution state threaded through every node of an
// agent graph. One State value belongs to exactly one in-flight run; nodes
// return an updated copy and the engine carries it forward, so a field set
// by an earlier node survives unless a later node overwrites it.
type State struct {
	// Command is the submitted command text.
	Command string
	// ActionType is the routing decision of the classification node.
	ActionType string
	// ActionParams carries routing parameters extracted alongside ActionType.
	ActionParams map[string]string

	// Working fields populated by intermediate nodes.
	Plan          string
	SearchResults []string
	Consultation  string

	// FinalResponse is the user-facing outcome, set by the finalize node.
	FinalResponse string
	// Error records a recoverable failure. A non-empty Error still routes
	// to finalization; Execute translates it into a failed result.
	Error string
	// CurrentStep names the most recently completed node.
	CurrentStep string
}
