package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/reconcile"
	"github.com/tbourn/go-ledger-sync/internal/store"
	"github.com/tbourn/go-ledger-sync/internal/thread"
)

// ----- Fake feed -----

type staticFeed struct {
	confirmed []domain.Record
	pending   []domain.Record
}

func (f staticFeed) FetchConfirmed(context.Context, string) ([]domain.Record, error) {
	return f.confirmed, nil
}

func (f staticFeed) FetchPending(context.Context, string) ([]domain.Record, error) {
	return f.pending, nil
}

func newService(t *testing.T, feed staticFeed) (*SyncService, *reconcile.Loop) {
	t.Helper()
	lg := zerolog.Nop()
	l := reconcile.New(store.New(), feed, feed, reconcile.Options{
		Groups: []string{"general"},
		Logger: &lg,
	})
	if !l.RunCycle(context.Background(), "general", reconcile.Full) {
		t.Fatal("initial cycle dropped")
	}
	return NewSyncService(l), l
}

func r(id string, at int64, parent string) domain.Record {
	return domain.Record{ID: id, CreatedAt: at, ParentID: parent}
}

// ----- Tests -----

func TestGroups_Summaries(t *testing.T) {
	svc, _ := newService(t, staticFeed{
		confirmed: []domain.Record{r("a", 1, ""), r("b", 2, "")},
		pending:   []domain.Record{r("c", 1<<40, "")},
	})
	got := svc.Groups(context.Background())
	if len(got) != 1 {
		t.Fatalf("want 1 group, got %+v", got)
	}
	if g := got[0]; g.Key != "general" || g.Confirmed != 2 || g.Pending != 1 || g.Phase != "idle" {
		t.Fatalf("unexpected summary %+v", g)
	}
}

func TestListPage(t *testing.T) {
	svc, _ := newService(t, staticFeed{
		confirmed: []domain.Record{r("a", 1, ""), r("b", 2, ""), r("c", 3, "")},
		pending:   []domain.Record{r("p", 1<<40, "")},
	})
	ctx := context.Background()

	items, total, err := svc.ListPage(ctx, "general", nil, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(items) != 2 || items[0].ID != "a" || items[1].ID != "b" {
		t.Fatalf("page 1: total=%d items=%+v", total, items)
	}

	items, _, _ = svc.ListPage(ctx, "general", nil, 2, 2)
	if len(items) != 2 || items[1].ID != "p" {
		t.Fatalf("page 2: %+v", items)
	}

	confirmed := domain.Confirmed
	items, total, _ = svc.ListPage(ctx, "general", &confirmed, 0, 0)
	if total != 3 || len(items) != 3 {
		t.Fatalf("confirmed filter: total=%d items=%d", total, len(items))
	}

	items, total, _ = svc.ListPage(ctx, "general", nil, 9, 2)
	if len(items) != 0 || total != 4 {
		t.Fatalf("out of range page: total=%d items=%d", total, len(items))
	}

	if _, _, err := svc.ListPage(ctx, "nope", nil, 1, 10); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}

func TestTree(t *testing.T) {
	svc, _ := newService(t, staticFeed{
		confirmed: []domain.Record{r("a", 1, ""), r("b", 2, "a")},
	})
	tree, err := svc.Tree(context.Background(), " general ")
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 1 || tree[0].Children[0].ID != "b" {
		t.Fatalf("unexpected tree %+v", tree)
	}
	if _, err := svc.Tree(context.Background(), "nope"); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}

func TestSubmit(t *testing.T) {
	svc, l := newService(t, staticFeed{confirmed: []domain.Record{r("a", 1, "")}})
	ctx := context.Background()

	rec, inserted, err := svc.Submit(ctx, "general", SubmitInput{
		ID:       "  L ",
		ParentID: "a",
		Payload:  json.RawMessage(`{"text":"hello"}`),
	})
	if err != nil || !inserted {
		t.Fatalf("Submit = %v, %v", inserted, err)
	}
	if rec.ID != "L" || rec.State != domain.Pending || rec.Origin != domain.Local || rec.CreatedAt == 0 {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, inserted, err = svc.Submit(ctx, "general", SubmitInput{ID: "a"})
	if err != nil || inserted || rec.State != domain.Confirmed {
		t.Fatalf("known confirmed id: rec=%+v inserted=%v err=%v", rec, inserted, err)
	}

	cases := []struct {
		name  string
		group string
		in    SubmitInput
		want  error
	}{
		{"unknown group", "market", SubmitInput{ID: "x"}, ErrUnknownGroup},
		{"missing id", "general", SubmitInput{ID: " "}, ErrInvalidRecord},
		{"bad json", "general", SubmitInput{ID: "x", Payload: json.RawMessage(`{`)}, ErrInvalidRecord},
		{"too large", "general", SubmitInput{ID: "x", Payload: json.RawMessage(`"` + strings.Repeat("a", 70<<10) + `"`)}, ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		if _, _, err := svc.Submit(ctx, tc.group, tc.in); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	svc.AllowNewGroups = true
	if _, _, err := svc.Submit(ctx, "market", SubmitInput{ID: "m"}); err != nil {
		t.Fatalf("AllowNewGroups: %v", err)
	}

	l.Stop()
	if _, _, err := svc.Submit(ctx, "general", SubmitInput{ID: "late"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("after stop: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	svc, _ := newService(t, staticFeed{confirmed: []domain.Record{r("a", 1, "")}})

	var sizes []int
	unsub, err := svc.Subscribe("general", func(tree []*thread.Node) { sizes = append(sizes, thread.Count(tree)) })
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Submit(context.Background(), "general", SubmitInput{ID: "b"}); err != nil {
		t.Fatal(err)
	}
	unsub()
	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 2 {
		t.Fatalf("sizes = %v", sizes)
	}

	if _, err := svc.Subscribe("nope", func([]*thread.Node) {}); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}
