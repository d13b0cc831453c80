// Package graph provides a generic directed-graph executor for agent
// workflows. Named nodes compute over a shared state type, plain edges chain
// nodes unconditionally, and conditional edges pick the successor at runtime
// through a router function over the current state.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// End is the terminal marker. Routing to End finishes the run.
const End = "__end__"

// DefaultMaxSteps bounds a single run so a mis-wired routing cycle cannot
// spin forever.
const DefaultMaxSteps = 64

// ErrRouteViolation indicates a router returned a key absent from its
// routing table. This is a wiring bug, not a recoverable condition.
var ErrRouteViolation = errors.New("router returned key outside routing table")

// ErrStepLimit indicates a run exceeded its node budget without reaching End.
var ErrStepLimit = errors.New("step limit exceeded before reaching terminal node")

// NodeFunc computes one node over the state. The returned state replaces the
// input for the next node, so a node applies its partial update by copying
// the struct and setting the fields it owns (last writer wins per field).
// The error return is reserved for unhandled faults: expected failure modes
// must be encoded into the state and routed toward finalization instead.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router inspects the state and returns the routing key for a conditional
// edge. The key must be a member of the edge's routing table.
type Router[S any] func(state S) string

// Observer receives a callback after every node invocation. The run's
// context is passed through so per-run trace collectors carried in the
// context can record the step. A nil observer is ignored.
type Observer[S any] func(ctx context.Context, node string, started time.Time, duration time.Duration, err error)

// edge is the single outgoing edge specification of a node: either a plain
// successor or a router with its table.
type edge[S any] struct {
	to     string
	router Router[S]
	table  map[string]string
}

// Engine accumulates nodes and edges until Compile validates the wiring.
// The engine itself holds no run state; all mutable state lives in the
// caller-supplied state value threaded through Run.
type Engine[S any] struct {
	nodes    map[string]NodeFunc[S]
	edges    map[string]edge[S]
	entry    string
	maxSteps int
	observer Observer[S]
}

// Option configures an Engine.
type Option[S any] func(*Engine[S])

// WithMaxSteps overrides the per-run node budget.
func WithMaxSteps[S any](n int) Option[S] {
	return func(e *Engine[S]) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithObserver attaches a per-node observer to every run.
func WithObserver[S any](obs Observer[S]) Option[S] {
	return func(e *Engine[S]) {
		e.observer = obs
	}
}

// NewEngine creates an empty engine.
func NewEngine[S any](opts ...Option[S]) *Engine[S] {
	e := &Engine[S]{
		nodes:    make(map[string]NodeFunc[S]),
		edges:    make(map[string]edge[S]),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterNode adds a named computation node. Re-registering a name replaces
// the previous function.
func (e *Engine[S]) RegisterNode(name string, fn NodeFunc[S]) error {
	if name == "" || name == End {
		return fmt.Errorf("invalid node name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("node %s: nil function", name)
	}
	e.nodes[name] = fn
	return nil
}

// AddEdge wires a plain edge: after from, execution always continues at to.
func (e *Engine[S]) AddEdge(from, to string) {
	e.edges[from] = edge[S]{to: to}
}

// AddConditionalEdge wires a conditional edge: after from, the router picks
// a key and the table maps it to the successor node (or End).
func (e *Engine[S]) AddConditionalEdge(from string, router Router[S], table map[string]string) {
	e.edges[from] = edge[S]{router: router, table: table}
}

// SetEntry designates the entry node.
func (e *Engine[S]) SetEntry(name string) {
	e.entry = name
}

// Compile validates the wiring and returns an executable graph. It checks
// that the entry node is registered, that every edge endpoint and every
// routing-table value refers to a registered node (or End), that every
// registered node has an outgoing edge, and that End is reachable from the
// entry.
func (e *Engine[S]) Compile() (*Compiled[S], error) {
	if e.entry == "" {
		return nil, errors.New("graph: entry node not set")
	}
	if _, ok := e.nodes[e.entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not registered", e.entry)
	}

	for from, ed := range e.edges {
		if _, ok := e.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unregistered node %q", from)
		}
		if ed.router == nil {
			if err := e.checkTarget(from, ed.to); err != nil {
				return nil, err
			}
			continue
		}
		if len(ed.table) == 0 {
			return nil, fmt.Errorf("graph: conditional edge from %q has empty routing table", from)
		}
		for key, to := range ed.table {
			if err := e.checkTarget(from, to); err != nil {
				return nil, fmt.Errorf("graph: routing key %q: %w", key, err)
			}
		}
	}

	for name := range e.nodes {
		if _, ok := e.edges[name]; !ok {
			return nil, fmt.Errorf("graph: node %q has no outgoing edge", name)
		}
	}

	if !e.reachesEnd() {
		return nil, errors.New("graph: no path from entry to terminal marker")
	}

	return &Compiled[S]{
		nodes:    e.nodes,
		edges:    e.edges,
		entry:    e.entry,
		maxSteps: e.maxSteps,
		observer: e.observer,
	}, nil
}

func (e *Engine[S]) checkTarget(from, to string) error {
	if to == End {
		return nil
	}
	if _, ok := e.nodes[to]; !ok {
		return fmt.Errorf("edge %s -> %s: target not registered", from, to)
	}
	return nil
}

// reachesEnd walks every possible successor from the entry and reports
// whether End is reachable at all.
func (e *Engine[S]) reachesEnd() bool {
	seen := map[string]bool{}
	stack := []string{e.entry}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == End {
			return true
		}
		if seen[node] {
			continue
		}
		seen[node] = true
		ed, ok := e.edges[node]
		if !ok {
			continue
		}
		if ed.router == nil {
			stack = append(stack, ed.to)
			continue
		}
		for _, to := range ed.table {
			stack = append(stack, to)
		}
	}
	return false
}

// Compiled is a validated, executable graph. It is immutable and safe for
// concurrent Run calls as long as each call gets its own state value.
type Compiled[S any] struct {
	nodes    map[string]NodeFunc[S]
	edges    map[string]edge[S]
	entry    string
	maxSteps int
	observer Observer[S]
}

// Entry returns the entry node name.
func (c *Compiled[S]) Entry() string {
	return c.entry
}

// Run executes the graph from the entry node to End, threading the state
// through each node sequentially. A node error, a routing contract
// violation, or exceeding the step budget aborts the run and returns the
// state as of the last completed node alongside the error.
func (c *Compiled[S]) Run(ctx context.Context, state S) (S, error) {
	current := c.entry
	for steps := 0; ; steps++ {
		if steps >= c.maxSteps {
			return state, fmt.Errorf("graph: at node %q after %d steps: %w", current, steps, ErrStepLimit)
		}
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("graph: at node %q: %w", current, err)
		}

		fn := c.nodes[current]
		started := time.Now()
		next, err := fn(ctx, state)
		if c.observer != nil {
			c.observer(ctx, current, started, time.Since(started), err)
		}
		if err != nil {
			return state, fmt.Errorf("graph: node %q: %w", current, err)
		}
		state = next

		to, err := c.route(current, state)
		if err != nil {
			return state, err
		}
		if to == End {
			return state, nil
		}
		current = to
	}
}

// route resolves the successor of node for the given state.
func (c *Compiled[S]) route(node string, state S) (string, error) {
	ed := c.edges[node]
	if ed.router == nil {
		return ed.to, nil
	}
	key := ed.router(state)
	to, ok := ed.table[key]
	if !ok {
		return "", fmt.Errorf("graph: node %q routed to key %q: %w", node, key, ErrRouteViolation)
	}
	return to, nil
}
