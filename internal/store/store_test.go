package store

import (
	"encoding/json"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

var t0 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) func() time.Time { return func() time.Time { return at } }

func rec(id string, ts int64) domain.Record {
	return domain.Record{ID: id, CreatedAt: ts, Payload: json.RawMessage(`{"id":"` + id + `"}`)}
}

// snapshot returns the group's records sorted for comparison.
func snapshot(s *Store, group string) []domain.Record {
	out := s.GetAll(group)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func TestIngest_Idempotent(t *testing.T) {
	batch := []domain.Record{rec("a", 1), rec("b", 2), rec("a", 1)}

	once := New()
	once.IngestConfirmed("g", batch)
	once.IngestPending("g", []domain.Record{rec("c", 3)}, domain.Remote)

	twice := New()
	for i := 0; i < 2; i++ {
		twice.IngestConfirmed("g", batch)
		twice.IngestPending("g", []domain.Record{rec("c", 3)}, domain.Remote)
	}

	if !reflect.DeepEqual(snapshot(once, "g"), snapshot(twice, "g")) {
		t.Fatalf("state differs:\n once=%+v\ntwice=%+v", snapshot(once, "g"), snapshot(twice, "g"))
	}
	if once.Len("g") != 3 {
		t.Fatalf("expected 3 records, got %d", once.Len("g"))
	}
}

func TestConfirmedWins_BothOrders(t *testing.T) {
	s := New()
	s.IngestPending("g", []domain.Record{rec("x", 10)}, domain.Remote)
	got := s.IngestConfirmed("g", []domain.Record{rec("x", 12)})
	if !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("newly confirmed = %v", got)
	}
	r, _ := s.Get("g", "x")
	if r.State != domain.Confirmed || r.CreatedAt != 12 {
		t.Fatalf("expected confirmed with confirmed timestamp, got %+v", r)
	}

	s2 := New()
	s2.IngestConfirmed("g", []domain.Record{rec("x", 12)})
	if added := s2.IngestPending("g", []domain.Record{rec("x", 99)}, domain.Remote); len(added) != 0 {
		t.Fatalf("pending must not re-add a confirmed id: %v", added)
	}
	r2, _ := s2.Get("g", "x")
	if r2.State != domain.Confirmed || r2.CreatedAt != 12 {
		t.Fatalf("confirmed record was downgraded or changed: %+v", r2)
	}
	if !reflect.DeepEqual(snapshot(s, "g"), snapshot(s2, "g")) {
		t.Fatalf("ingest order changed the outcome")
	}
}

func TestIngestConfirmed_KnownConfirmedIsNoop(t *testing.T) {
	s := New()
	s.IngestConfirmed("g", []domain.Record{rec("x", 1)})
	if got := s.IngestConfirmed("g", []domain.Record{rec("x", 5)}); len(got) != 0 {
		t.Fatalf("expected no newly confirmed ids, got %v", got)
	}
	r, _ := s.Get("g", "x")
	if r.CreatedAt != 1 {
		t.Fatalf("confirmed record should be untouched, got %+v", r)
	}
}

func TestLocalToConfirmedHandoff(t *testing.T) {
	s := New(WithClock(fixedClock(t0)))
	if !s.AddLocal("g", rec("m1", t0.Unix()-900)) {
		t.Fatalf("AddLocal should insert")
	}
	if s.AddLocal("g", rec("m1", t0.Unix())) {
		t.Fatalf("AddLocal must not duplicate an id")
	}
	r, _ := s.Get("g", "m1")
	if r.State != domain.Pending || r.Origin != domain.Local {
		t.Fatalf("unexpected local record %+v", r)
	}

	s.IngestConfirmed("g", []domain.Record{rec("m1", t0.Unix()-800)})
	if removed := s.ExpirePending("g", 10*time.Minute); len(removed) != 0 {
		t.Fatalf("confirmed record must survive expiry, removed %v", removed)
	}
	all := s.GetAll("g")
	if len(all) != 1 || all[0].State != domain.Confirmed || all[0].Origin != domain.Local {
		t.Fatalf("expected exactly one confirmed m1, got %+v", all)
	}
	if lp := s.LocalPending(); len(lp) != 0 {
		t.Fatalf("confirmed local record should leave the local pending set: %+v", lp)
	}
}

func TestExpirePending_Window(t *testing.T) {
	s := New(WithClock(fixedClock(t0)))
	now := t0.Unix()
	s.IngestPending("g", []domain.Record{rec("old", now-601), rec("fresh", now-30)}, domain.Remote)
	s.AddLocal("g", rec("old-local", now-3600))
	s.IngestConfirmed("g", []domain.Record{rec("ancient", now-86400)})

	removed := s.ExpirePending("g", 600*time.Second)
	if !reflect.DeepEqual(removed, []string{"old", "old-local"}) {
		t.Fatalf("removed = %v", removed)
	}
	if _, ok := s.Get("g", "fresh"); !ok {
		t.Fatalf("record inside window must be retained")
	}
	if _, ok := s.Get("g", "ancient"); !ok {
		t.Fatalf("confirmed records never expire")
	}
}

func TestCrossPartitionIsolation(t *testing.T) {
	s := New()
	s.IngestConfirmed("general", []domain.Record{rec("a", 1)})
	s.AddLocal("general", rec("b", 2))

	if got := s.GetAll("trading"); len(got) != 0 {
		t.Fatalf("trading leaked records: %+v", got)
	}
	s.IngestConfirmed("trading", []domain.Record{rec("a", 7)})
	ga, _ := s.Get("general", "a")
	ta, _ := s.Get("trading", "a")
	if ga.CreatedAt != 1 || ta.CreatedAt != 7 || ga.GroupKey != "general" || ta.GroupKey != "trading" {
		t.Fatalf("same id merged across groups: %+v / %+v", ga, ta)
	}
}

func TestGetAll_ReturnsCopies(t *testing.T) {
	s := New()
	s.IngestConfirmed("g", []domain.Record{rec("a", 1)})
	got := s.GetAll("g")
	got[0].Payload[2] = 'Z'
	got[0].State = domain.Pending

	again, _ := s.Get("g", "a")
	if again.State != domain.Confirmed || string(again.Payload) != `{"id":"a"}` {
		t.Fatalf("store exposed internal state: %+v", again)
	}
}

func TestRemove_UnknownIsSilent(t *testing.T) {
	s := New()
	if s.Remove("nope", "x") {
		t.Fatalf("remove on unknown group should report false")
	}
	s.IngestConfirmed("g", []domain.Record{rec("a", 1)})
	if !s.Remove("g", "a") || s.Len("g") != 0 {
		t.Fatalf("remove failed")
	}
	if s.Remove("g", "a") {
		t.Fatalf("second remove should be a no-op")
	}
}

func TestPrune_KeepsNewestConfirmedAndAllPending(t *testing.T) {
	s := New()
	s.IngestConfirmed("g", []domain.Record{rec("c1", 1), rec("c2", 2), rec("c3", 3), rec("c4", 4)})
	s.IngestPending("g", []domain.Record{rec("p0", 0)}, domain.Remote)

	removed := s.Prune("g", 2)
	if !reflect.DeepEqual(removed, []string{"c1", "c2"}) {
		t.Fatalf("removed = %v", removed)
	}
	pending, confirmed := s.Count("g")
	if pending != 1 || confirmed != 2 {
		t.Fatalf("count = %d pending / %d confirmed", pending, confirmed)
	}
	if s.Prune("g", 10) != nil {
		t.Fatalf("nothing to prune")
	}
}

func TestPrune_PrunedIDsStayOut(t *testing.T) {
	s := New()
	s.IngestConfirmed("g", []domain.Record{rec("c1", 1), rec("c2", 2), rec("c3", 3)})
	s.Prune("g", 1)

	if added := s.IngestPending("g", []domain.Record{rec("c1", 1), rec("p", 5)}, domain.Remote); !reflect.DeepEqual(added, []string{"p"}) {
		t.Fatalf("pending re-added pruned id: %v", added)
	}
	if got := s.IngestConfirmed("g", []domain.Record{rec("c2", 2), rec("c3", 3)}); got != nil {
		t.Fatalf("confirmed re-added pruned id: %v", got)
	}
	if s.AddLocal("g", rec("c1", 9)) {
		t.Fatal("local submit re-added pruned id")
	}
	if _, ok := s.Get("g", "c1"); ok {
		t.Fatal("c1 is back")
	}
	pending, confirmed := s.Count("g")
	if pending != 1 || confirmed != 1 {
		t.Fatalf("count = %d pending / %d confirmed", pending, confirmed)
	}

	// Other groups are unaffected.
	if added := s.IngestPending("h", []domain.Record{rec("c1", 1)}, domain.Remote); len(added) != 1 {
		t.Fatalf("tombstone leaked across groups: %v", added)
	}
}

func TestPrune_TombstonesAreBounded(t *testing.T) {
	s := New(WithTombstoneLimit(2))
	s.IngestConfirmed("g", []domain.Record{rec("a", 1), rec("b", 2), rec("c", 3), rec("d", 4)})
	s.Prune("g", 1)

	// Only the two most recently pruned ids are remembered.
	added := s.IngestPending("g", []domain.Record{rec("a", 1), rec("b", 2), rec("c", 3)}, domain.Remote)
	if !reflect.DeepEqual(added, []string{"a"}) {
		t.Fatalf("added = %v, want [a]", added)
	}

	off := New(WithTombstoneLimit(0))
	off.IngestConfirmed("g", []domain.Record{rec("a", 1), rec("b", 2)})
	off.Prune("g", 1)
	if added := off.IngestPending("g", []domain.Record{rec("a", 1)}, domain.Remote); len(added) != 1 {
		t.Fatalf("disabled tombstones still blocked %v", added)
	}
}

func TestGroups_Sorted(t *testing.T) {
	s := New()
	s.IngestConfirmed("trading", nil)
	s.AddLocal("general", rec("a", 1))
	if got := s.Groups(); !reflect.DeepEqual(got, []string{"general", "trading"}) {
		t.Fatalf("groups = %v", got)
	}
}
