package graph

import (
	"strings"
	"testing"
)

func buildTestRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	b := NewRegistryBuilder()
	for _, name := range names {
		if err := b.Register(name, nopNode); err != nil {
			t.Fatalf("Register(%q) returned error: %v", name, err)
		}
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	return reg
}

// TestNextDeclarationOrder tests that rules are evaluated in declaration
// order and the first match wins.
func TestNextDeclarationOrder(t *testing.T) {
	reg := buildTestRegistry(t, "a", "b", "c", "d")
	table, err := CompileEdges(reg, []Edge{
		{
			Source: "a",
			Rules: []Rule{
				{When: func(st *State) bool { return true }, To: "b"},
				{When: func(st *State) bool { return true }, To: "c"},
			},
			Default: "d",
		},
		{Source: "b", Default: "a"},
		{Source: "c", Default: "a"},
		{Source: "d", Default: "a"},
	})
	if err != nil {
		t.Fatalf("CompileEdges() returned error: %v", err)
	}

	st := newTestState()
	st.CurrentNode = "a"
	next, err := table.Next(st)
	if err != nil {
		t.Fatalf("Next() returned error: %v", err)
	}
	if next != "b" {
		t.Errorf("Expected first matching rule target 'b', got '%s'", next)
	}
}

// TestNextDefault tests that the default target is used when no rule
// matches.
func TestNextDefault(t *testing.T) {
	reg := buildTestRegistry(t, "a", "b", "c")
	table, err := CompileEdges(reg, []Edge{
		{
			Source: "a",
			Rules: []Rule{
				{When: func(st *State) bool { return false }, To: "b"},
			},
			Default: "c",
		},
		{Source: "b", Default: "a"},
		{Source: "c", Default: "a"},
	})
	if err != nil {
		t.Fatalf("CompileEdges() returned error: %v", err)
	}

	st := newTestState()
	st.CurrentNode = "a"
	next, err := table.Next(st)
	if err != nil {
		t.Fatalf("Next() returned error: %v", err)
	}
	if next != "c" {
		t.Errorf("Expected default target 'c', got '%s'", next)
	}
}

// TestCompileEdgesValidation tests that every compile-time defect is
// rejected with the right error kind.
func TestCompileEdgesValidation(t *testing.T) {
	reg := buildTestRegistry(t, "a", "b")
	truthy := func(st *State) bool { return true }

	tests := []struct {
		name  string
		edges []Edge
		kind  ErrorKind
	}{
		{
			name:  "unknown source",
			edges: []Edge{{Source: "missing", Default: "a"}, {Source: "a", Default: "b"}, {Source: "b", Default: "a"}},
			kind:  KindUnknownNode,
		},
		{
			name:  "unknown default target",
			edges: []Edge{{Source: "a", Default: "missing"}, {Source: "b", Default: "a"}},
			kind:  KindUnknownNode,
		},
		{
			name: "unknown rule target",
			edges: []Edge{
				{Source: "a", Rules: []Rule{{When: truthy, To: "missing"}}, Default: "b"},
				{Source: "b", Default: "a"},
			},
			kind: KindUnknownNode,
		},
		{
			name:  "missing default",
			edges: []Edge{{Source: "a"}, {Source: "b", Default: "a"}},
			kind:  KindMalformedEdge,
		},
		{
			name: "nil predicate",
			edges: []Edge{
				{Source: "a", Rules: []Rule{{When: nil, To: "b"}}, Default: "b"},
				{Source: "b", Default: "a"},
			},
			kind: KindMalformedEdge,
		},
		{
			name:  "duplicate source",
			edges: []Edge{{Source: "a", Default: "b"}, {Source: "a", Default: "b"}, {Source: "b", Default: "a"}},
			kind:  KindMalformedEdge,
		},
		{
			name:  "node without edge",
			edges: []Edge{{Source: "a", Default: "a"}},
			kind:  KindMalformedEdge,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileEdges(reg, tc.edges)
			if err == nil {
				t.Fatal("Expected compile to fail")
			}
			if KindOf(err) != tc.kind {
				t.Errorf("Expected kind '%s', got '%s'", tc.kind, KindOf(err))
			}
		})
	}
}

// TestMermaid tests the flowchart rendering of the routing table.
func TestMermaid(t *testing.T) {
	reg := buildTestRegistry(t, "a", "b")
	table, err := CompileEdges(reg, []Edge{
		{
			Source:  "a",
			Rules:   []Rule{{When: func(st *State) bool { return false }, To: "b", Label: "error"}},
			Default: "b",
		},
		{Source: "b", Default: "a"},
	})
	if err != nil {
		t.Fatalf("CompileEdges() returned error: %v", err)
	}

	out := table.Mermaid()
	if !strings.HasPrefix(out, "flowchart TD\n") {
		t.Errorf("Expected flowchart header, got %q", out)
	}
	for _, want := range []string{
		"a -->|error| b",
		"a -->|default| b",
		"b -->|default| a",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected diagram to contain %q:\n%s", want, out)
		}
	}
}
