package models

import (
	"fmt"
	"time"
)

// ExecutionResult is the uniform outcome of one agent execution, regardless
// of the internal graph shape. Exactly one of Response/Error is meaningful:
// Success=true carries Response, Success=false carries Error.
type ExecutionResult struct {
	// Success reports whether the execution produced a usable response.
	Success bool `json:"success"`
	// Response is the final response text for successful executions.
	Response string `json:"response,omitempty"`
	// Error describes the failure for unsuccessful executions.
	Error string `json:"error,omitempty"`
	// Metadata carries execution details (token usage, node trace, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StepType classifies an execution trace entry.
type StepType string

const (
	// StepTypeNode is a graph node invocation.
	StepTypeNode StepType = "node"
	// StepTypeTool is an external tool call.
	StepTypeTool StepType = "tool"
	// StepTypeLLM is a model invocation.
	StepTypeLLM StepType = "llm"
)

// ExecutionStep is one append-only trace entry for a single run. Input and
// output snapshots are sanitized before storage: strings truncated, lists
// capped, anything non-serializable stringified.
type ExecutionStep struct {
	// Type classifies the step.
	Type StepType `json:"type"`
	// Name is the node, tool, or model name.
	Name string `json:"name"`
	// StartedAt is when the step began.
	StartedAt time.Time `json:"started_at"`
	// Duration is how long the step took.
	Duration time.Duration `json:"duration"`
	// Input is the sanitized input snapshot.
	Input string `json:"input,omitempty"`
	// Output is the sanitized output snapshot.
	Output string `json:"output,omitempty"`
	// Metadata carries free-form step details, including failure markers.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Failed returns true if the step carries a failure marker.
func (s *ExecutionStep) Failed() bool {
	return s.Metadata["status"] == "failed" || s.Metadata["error"] != ""
}

// Summary renders a one-line human-readable description of the step.
func (s *ExecutionStep) Summary() string {
	return fmt.Sprintf("%s %s (%s)", s.Type, s.Name, s.Duration.Round(time.Millisecond))
}
