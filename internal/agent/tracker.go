package agent

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

const (
	// maxSnapshotLen bounds a sanitized input/output string.
	maxSnapshotLen = 500
	// maxListItems bounds how many list elements a snapshot keeps.
	maxListItems = 10
)

// Tracker records the execution trace of a single run. Steps are append-only
// and owned exclusively by the run, but the tracker is locked anyway so a
// consultation running in the same dispatch can record steps safely.
type Tracker struct {
	mu    sync.Mutex
	steps []models.ExecutionStep
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record appends a step with sanitized input/output snapshots.
func (t *Tracker) Record(stepType models.StepType, name string, started time.Time, duration time.Duration, input, output any, metadata map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, models.ExecutionStep{
		Type:      stepType,
		Name:      name,
		StartedAt: started,
		Duration:  duration,
		Input:     Sanitize(input),
		Output:    Sanitize(output),
		Metadata:  metadata,
	})
}

// RecordNode appends a node step, marking it failed when err is non-nil.
func (t *Tracker) RecordNode(name string, started time.Time, duration time.Duration, err error) {
	var meta map[string]string
	if err != nil {
		meta = map[string]string{"status": "failed", "error": err.Error()}
	}
	t.Record(models.StepTypeNode, name, started, duration, nil, nil, meta)
}

// Steps returns a copy of the recorded steps.
func (t *Tracker) Steps() []models.ExecutionStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.ExecutionStep, len(t.steps))
	copy(out, t.steps)
	return out
}

// Sanitize renders a value as a bounded string: strings are truncated,
// string lists are capped, and anything else is stringified via %v before
// truncation.
func Sanitize(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(val)
	case []string:
		capped := val
		suffix := ""
		if len(capped) > maxListItems {
			suffix = fmt.Sprintf(" (+%d more)", len(capped)-maxListItems)
			capped = capped[:maxListItems]
		}
		return truncate(fmt.Sprintf("%v", capped)) + suffix
	default:
		return truncate(fmt.Sprintf("%v", val))
	}
}

func truncate(s string) string {
	if len(s) <= maxSnapshotLen {
		return s
	}
	// Back off to a rune boundary so the snapshot stays valid UTF-8.
	cut := maxSnapshotLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
