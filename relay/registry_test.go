package relay

import (
	"testing"

	"github.com/ajolex/surveycto-vc-agent/bridge"
	"github.com/ajolex/surveycto-vc-agent/types"
)

func testRegistry() *Registry {
	return NewRegistry(func(sheet string) *Relay {
		return New(sheet, bridge.BroadcastFunc(func(types.Message) error { return nil }), Options{})
	})
}

func TestRegistry_OrderAndRefcount(t *testing.T) {
	g := testRegistry()

	a := g.Acquire("a")
	g.Acquire("b")
	if again := g.Acquire("a"); again != a {
		t.Error("second Acquire returned a different relay")
	}

	list := g.List()
	if len(list) != 2 || list[0].Sheet() != "a" || list[1].Sheet() != "b" {
		t.Fatalf("List() order wrong: %v", sheets(list))
	}

	g.Release("a")
	if g.Get("a") == nil {
		t.Fatal("relay removed while still referenced")
	}
	g.Release("a")
	if g.Get("a") != nil {
		t.Error("relay kept after last release")
	}
	if got := sheets(g.List()); len(got) != 1 || got[0] != "b" {
		t.Errorf("List() = %v, want [b]", got)
	}

	g.Release("missing")
	g.Release("b")
	if len(g.Statuses()) != 0 {
		t.Error("Statuses() not empty")
	}
}

func sheets(rs []*Relay) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Sheet()
	}
	return out
}
