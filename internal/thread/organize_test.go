package thread

import (
	"reflect"
	"testing"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

func ids(ns []*Node) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func TestOrganize_Determinism(t *testing.T) {
	records := []domain.Record{
		{ID: "c", ParentID: "a", CreatedAt: 3},
		{ID: "a", CreatedAt: 1},
		{ID: "b", ParentID: "a", CreatedAt: 2},
	}
	roots := Organize(records)
	if got := ids(roots); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("roots = %v", got)
	}
	if got := ids(roots[0].Children); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("children = %v", got)
	}

	again := Organize(records)
	if !reflect.DeepEqual(Flatten(roots), Flatten(again)) {
		t.Fatalf("organize is not deterministic")
	}
}

func TestOrganize_TieBreakOnID(t *testing.T) {
	roots := Organize([]domain.Record{
		{ID: "z", CreatedAt: 5},
		{ID: "m", CreatedAt: 5},
		{ID: "a", CreatedAt: 9},
	})
	if got := ids(roots); !reflect.DeepEqual(got, []string{"m", "z", "a"}) {
		t.Fatalf("roots = %v", got)
	}
}

func TestOrganize_OrphanIsRoot(t *testing.T) {
	roots := Organize([]domain.Record{
		{ID: "a", CreatedAt: 1},
		{ID: "orphan", ParentID: "missing", CreatedAt: 2},
	})
	if got := ids(roots); !reflect.DeepEqual(got, []string{"a", "orphan"}) {
		t.Fatalf("roots = %v", got)
	}
}

func TestOrganize_ParentInOtherGroupIsRoot(t *testing.T) {
	roots := Organize([]domain.Record{
		{ID: "p", GroupKey: "trading", CreatedAt: 1},
		{ID: "c", GroupKey: "general", ParentID: "p", CreatedAt: 2},
	})
	if len(roots) != 2 || Count(roots) != 2 {
		t.Fatalf("expected two roots, got %v", ids(roots))
	}
}

func TestOrganize_CycleTerminates(t *testing.T) {
	roots := Organize([]domain.Record{
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	})
	if len(roots) == 0 {
		t.Fatalf("cycle must leave at least one root")
	}
	if Count(roots) != 2 {
		t.Fatalf("cycle must not drop records, got %d", Count(roots))
	}
	// a is seen first and attaches under b; b would close the loop.
	if got := ids(roots); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("roots = %v", got)
	}
}

func TestOrganize_SelfParentAndLongCycle(t *testing.T) {
	roots := Organize([]domain.Record{
		{ID: "self", ParentID: "self", CreatedAt: 1},
		{ID: "x", ParentID: "z", CreatedAt: 2},
		{ID: "y", ParentID: "x", CreatedAt: 3},
		{ID: "z", ParentID: "y", CreatedAt: 4},
	})
	if Count(roots) != 4 {
		t.Fatalf("records dropped: %d", Count(roots))
	}
	if Find(roots, "self") == nil || Find(roots, "z") == nil {
		t.Fatalf("expected all nodes reachable")
	}
	if got := ids(roots); !reflect.DeepEqual(got, []string{"self", "z"}) {
		t.Fatalf("roots = %v", got)
	}
}

func TestOrganize_LateParentIsResolvedNextPass(t *testing.T) {
	child := domain.Record{ID: "reply", ParentID: "root", CreatedAt: 5}
	first := Organize([]domain.Record{child})
	if got := ids(first); !reflect.DeepEqual(got, []string{"reply"}) {
		t.Fatalf("first pass roots = %v", got)
	}
	second := Organize([]domain.Record{child, {ID: "root", CreatedAt: 1}})
	if got := ids(second); !reflect.DeepEqual(got, []string{"root"}) {
		t.Fatalf("second pass roots = %v", got)
	}
	if got := ids(second[0].Children); !reflect.DeepEqual(got, []string{"reply"}) {
		t.Fatalf("second pass children = %v", got)
	}
}

func TestOrganize_DoesNotMutateInput(t *testing.T) {
	in := []domain.Record{{ID: "b", ParentID: "a", CreatedAt: 2}, {ID: "a", CreatedAt: 1}}
	cp := append([]domain.Record(nil), in...)
	_ = Organize(in)
	if !reflect.DeepEqual(in, cp) {
		t.Fatalf("input mutated: %+v", in)
	}
}

func TestOrganize_DuplicatePrefersConfirmed(t *testing.T) {
	roots := Organize([]domain.Record{
		{ID: "a", State: domain.Pending, CreatedAt: 1},
		{ID: "a", State: domain.Confirmed, CreatedAt: 2},
	})
	if len(roots) != 1 || roots[0].State != domain.Confirmed {
		t.Fatalf("expected single confirmed node, got %+v", roots)
	}
}
