package calc

import (
	"reflect"
	"testing"
)

func TestGraph_AddRemove(t *testing.T) {
	g := NewGraph()

	if !g.AddEdge("TYM5", "NQM5") {
		t.Error("first AddEdge should report a new edge")
	}
	if g.AddEdge("TYM5", "NQM5") {
		t.Error("AddEdge should be idempotent")
	}
	g.AddEdge("TYM5", "ESM5")

	if got := g.Dependencies("TYM5"); !reflect.DeepEqual(got, []string{"ESM5", "NQM5"}) {
		t.Errorf("Dependencies = %v", got)
	}
	if got := g.Dependents("NQM5"); !reflect.DeepEqual(got, []string{"TYM5"}) {
		t.Errorf("Dependents = %v", got)
	}

	if !g.RemoveEdge("TYM5", "NQM5") {
		t.Error("RemoveEdge should report an existing edge")
	}
	if g.RemoveEdge("TYM5", "NQM5") {
		t.Error("RemoveEdge of a missing edge should be a no-op")
	}
	if g.HasEdge("TYM5", "NQM5") || len(g.Dependents("NQM5")) != 0 {
		t.Error("both directions should be cleared")
	}
}

func TestGraph_Order(t *testing.T) {
	g := NewGraph()
	g.AddEdge("TYM5", "NQM5")
	g.AddEdge("TYM5", "ESM5")
	g.AddEdge("NQM5", "ESM5")

	got := g.Order([]string{"TYM5", "NQM5", "ESM5", "TUM5"})
	want := []string{"ESM5", "NQM5", "TYM5", "TUM5"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Order = %v, want %v", got, want)
	}
}

func TestGraph_OrderToleratesCycles(t *testing.T) {
	g := NewGraph()
	g.AddEdge("A", "B")
	g.AddEdge("B", "A")
	g.AddEdge("A", "MISSING")

	got := g.Order([]string{"A", "B"})
	if len(got) != 2 {
		t.Fatalf("Order = %v, want both ids exactly once", got)
	}
}
