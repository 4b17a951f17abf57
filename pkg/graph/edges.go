package graph

import (
	"fmt"
	"strings"
)

// Predicate is a pure function of state used for conditional routing. It
// must not mutate state, block, or have side effects.
type Predicate func(st *State) bool

// Rule is one (predicate, target) pair of a conditional edge. Rules are
// evaluated in declaration order; the first matching rule wins.
type Rule struct {
	// When is the routing predicate.
	When Predicate

	// To is the target node when the predicate evaluates true.
	To string

	// Label is a short description of the condition, used for
	// visualization only.
	Label string
}

// Edge is the routing rule for one source node: an ordered list of
// conditional rules plus a mandatory default target. Edges are data, not
// behavior, and are compiled once into an EdgeTable.
type Edge struct {
	// Source is the node this edge routes from.
	Source string

	// Rules are the ordered conditional rules.
	Rules []Rule

	// Default is the target when no rule matches.
	Default string
}

// EdgeTable is the compiled, immutable routing table. It requires no
// locking during execution.
type EdgeTable struct {
	edges map[string]Edge
	order []string
}

// CompileEdges validates edges against the registry and compiles them into
// an immutable table. Every registered node must have exactly one edge,
// every rule needs a predicate, and every target must be a registered node.
// Any defect is a fatal configuration error.
func CompileEdges(reg *Registry, edges []Edge) (*EdgeTable, error) {
	compiled := make(map[string]Edge, len(edges))
	order := make([]string, 0, len(edges))

	for _, e := range edges {
		if !reg.Has(e.Source) {
			return nil, NewConfigError(KindUnknownNode,
				fmt.Sprintf("edge source %q is not a registered node", e.Source))
		}
		if _, dup := compiled[e.Source]; dup {
			return nil, NewConfigError(KindMalformedEdge,
				fmt.Sprintf("node %q has more than one edge", e.Source))
		}
		if e.Default == "" {
			return nil, NewConfigError(KindMalformedEdge,
				fmt.Sprintf("edge from %q has no default target", e.Source))
		}
		if !reg.Has(e.Default) {
			return nil, NewConfigError(KindUnknownNode,
				fmt.Sprintf("edge from %q defaults to unregistered node %q", e.Source, e.Default))
		}
		for i, r := range e.Rules {
			if r.When == nil {
				return nil, NewConfigError(KindMalformedEdge,
					fmt.Sprintf("edge from %q has nil predicate at position %d", e.Source, i))
			}
			if !reg.Has(r.To) {
				return nil, NewConfigError(KindUnknownNode,
					fmt.Sprintf("edge from %q targets unregistered node %q", e.Source, r.To))
			}
		}
		compiled[e.Source] = e
		order = append(order, e.Source)
	}

	for _, name := range reg.Names() {
		if _, ok := compiled[name]; !ok {
			return nil, NewConfigError(KindMalformedEdge,
				fmt.Sprintf("node %q has no edge", name))
		}
	}

	return &EdgeTable{edges: compiled, order: order}, nil
}

// Next evaluates the edge for the state's current node: the rules run in
// declaration order and the first true predicate decides the target; when
// none match, the default target is returned.
func (t *EdgeTable) Next(st *State) (string, error) {
	edge, ok := t.edges[st.CurrentNode]
	if !ok {
		return "", NewConfigError(KindUnknownNode,
			fmt.Sprintf("no edge for node %q", st.CurrentNode)).WithNode(st.CurrentNode)
	}
	for _, r := range edge.Rules {
		if r.When(st) {
			return r.To, nil
		}
	}
	return edge.Default, nil
}

// Sources returns the edge source nodes in declaration order.
func (t *EdgeTable) Sources() []string {
	order := make([]string, len(t.order))
	copy(order, t.order)
	return order
}

// Mermaid renders the routing table as a Mermaid flowchart, with rule
// labels on conditional transitions.
func (t *EdgeTable) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	for _, src := range t.order {
		edge := t.edges[src]
		for _, r := range edge.Rules {
			if r.Label != "" {
				fmt.Fprintf(&b, "    %s -->|%s| %s\n", src, r.Label, r.To)
			} else {
				fmt.Fprintf(&b, "    %s --> %s\n", src, r.To)
			}
		}
		fmt.Fprintf(&b, "    %s -->|default| %s\n", src, edge.Default)
	}
	return b.String()
}
