package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testState is a minimal agent-style state for exercising the engine.
type testState struct {
	Action   string
	Response string
	Error    string
	Visited  []string
}

func visit(name string) NodeFunc[testState] {
	return func(_ context.Context, s testState) (testState, error) {
		s.Visited = append(s.Visited, name)
		return s, nil
	}
}

func TestCompileRequiresEntry(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", visit("a")))
	e.AddEdge("a", End)

	_, err := e.Compile()
	assert.Error(t, err)

	e.SetEntry("a")
	_, err = e.Compile()
	assert.NoError(t, err)
}

func TestCompileRejectsUnknownEdgeTarget(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", visit("a")))
	e.AddEdge("a", "ghost")
	e.SetEntry("a")

	_, err := e.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestCompileRejectsUnknownRoutingTableValue(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", visit("a")))
	e.AddConditionalEdge("a", func(s testState) string { return s.Action }, map[string]string{
		"done": End,
		"next": "missing",
	})
	e.SetEntry("a")

	_, err := e.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestCompileRejectsDanglingNode(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", visit("a")))
	require.NoError(t, e.RegisterNode("b", visit("b")))
	e.AddEdge("a", End)
	e.SetEntry("a")

	_, err := e.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no outgoing edge")
}

func TestCompileRejectsUnreachableEnd(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", visit("a")))
	require.NoError(t, e.RegisterNode("b", visit("b")))
	e.AddEdge("a", "b")
	e.AddEdge("b", "a")
	e.SetEntry("a")

	_, err := e.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestRunFollowsPlainEdges(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("first", visit("first")))
	require.NoError(t, e.RegisterNode("second", visit("second")))
	e.AddEdge("first", "second")
	e.AddEdge("second", End)
	e.SetEntry("first")

	compiled, err := e.Compile()
	require.NoError(t, err)

	out, err := compiled.Run(context.Background(), testState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, out.Visited)
}

func TestRunConditionalRouting(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("classify", func(_ context.Context, s testState) (testState, error) {
		s.Action = "search"
		s.Visited = append(s.Visited, "classify")
		return s, nil
	}))
	require.NoError(t, e.RegisterNode("search", visit("search")))
	require.NoError(t, e.RegisterNode("respond", visit("respond")))
	e.AddConditionalEdge("classify", func(s testState) string { return s.Action }, map[string]string{
		"search":  "search",
		"respond": "respond",
	})
	e.AddEdge("search", "respond")
	e.AddEdge("respond", End)
	e.SetEntry("classify")

	compiled, err := e.Compile()
	require.NoError(t, err)

	out, err := compiled.Run(context.Background(), testState{})
	require.NoError(t, err)
	// Exactly one path consistent with routing decisions.
	assert.Equal(t, []string{"classify", "search", "respond"}, out.Visited)
}

func TestRunRouteViolationIsFatal(t *testing.T) {
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("classify", func(_ context.Context, s testState) (testState, error) {
		s.Action = "dance" // not in the table
		return s, nil
	}))
	require.NoError(t, e.RegisterNode("respond", visit("respond")))
	e.AddConditionalEdge("classify", func(s testState) string { return s.Action }, map[string]string{
		"respond": "respond",
		"done":    End,
	})
	e.AddEdge("respond", End)
	e.SetEntry("classify")

	compiled, err := e.Compile()
	require.NoError(t, err)

	_, err = compiled.Run(context.Background(), testState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRouteViolation)
}

func TestRunNodeFaultAborts(t *testing.T) {
	boom := errors.New("connection reset")
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", visit("a")))
	require.NoError(t, e.RegisterNode("b", func(_ context.Context, s testState) (testState, error) {
		return s, boom
	}))
	e.AddEdge("a", "b")
	e.AddEdge("b", End)
	e.SetEntry("a")

	compiled, err := e.Compile()
	require.NoError(t, err)

	out, err := compiled.Run(context.Background(), testState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	// State reflects the last completed node.
	assert.Equal(t, []string{"a"}, out.Visited)
}

func TestRunStepLimitTerminates(t *testing.T) {
	e := NewEngine[testState](WithMaxSteps[testState](10))
	require.NoError(t, e.RegisterNode("loop", visit("loop")))
	require.NoError(t, e.RegisterNode("exit", visit("exit")))
	// The router never actually picks "exit", so the run must hit the limit.
	e.AddConditionalEdge("loop", func(testState) string { return "again" }, map[string]string{
		"again": "loop",
		"stop":  "exit",
	})
	e.AddEdge("exit", End)
	e.SetEntry("loop")

	compiled, err := e.Compile()
	require.NoError(t, err)

	_, err = compiled.Run(context.Background(), testState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestRunObserverSeesEveryNode(t *testing.T) {
	var observed []string
	e := NewEngine[testState](WithObserver[testState](func(_ context.Context, node string, _ time.Time, _ time.Duration, err error) {
		observed = append(observed, node)
		assert.NoError(t, err)
	}))
	require.NoError(t, e.RegisterNode("a", visit("a")))
	require.NoError(t, e.RegisterNode("b", visit("b")))
	e.AddEdge("a", "b")
	e.AddEdge("b", End)
	e.SetEntry("a")

	compiled, err := e.Compile()
	require.NoError(t, err)

	_, err = compiled.Run(context.Background(), testState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, observed)
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine[testState]()
	require.NoError(t, e.RegisterNode("a", func(_ context.Context, s testState) (testState, error) {
		cancel()
		return s, nil
	}))
	require.NoError(t, e.RegisterNode("b", visit("b")))
	e.AddEdge("a", "b")
	e.AddEdge("b", End)
	e.SetEntry("a")

	compiled, err := e.Compile()
	require.NoError(t, err)

	out, err := compiled.Run(ctx, testState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, out.Visited, "b")
}

func TestRegisterNodeRejectsReservedNames(t *testing.T) {
	e := NewEngine[testState]()
	assert.Error(t, e.RegisterNode("", visit("")))
	assert.Error(t, e.RegisterNode(End, visit(End)))
	assert.Error(t, e.RegisterNode("a", nil))
}
