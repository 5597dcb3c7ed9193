// Package services – SyncService
//
// SyncService exposes the reconciled view of each group to the HTTP layer:
// group summaries, paginated record listings, thread trees, optimistic
// submission and live subscriptions. It never writes to the store itself;
// every mutation goes through the reconciliation loop.
//
// Observability: public methods that take a context are OpenTelemetry
// instrumented with the group key as an attribute.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/reconcile"
	"github.com/tbourn/go-ledger-sync/internal/thread"
	"github.com/tbourn/go-ledger-sync/internal/utils"
)

// Reconciler is the loop surface SyncService depends on.
// *reconcile.Loop satisfies it.
type Reconciler interface {
	Tracked(group string) bool
	Groups() []string
	Counts(group string) (pending, confirmed int)
	Records(group string) []domain.Record
	Tree(group string) []*thread.Node
	Phase(group string) reconcile.Phase
	SubmitLocal(ctx context.Context, r domain.Record) (bool, error)
	OnUpdate(group string, fn reconcile.Listener) func()
}

// GroupSummary describes one tracked group.
type GroupSummary struct {
	Key       string `json:"key"`
	Pending   int    `json:"pending"`
	Confirmed int    `json:"confirmed"`
	Phase     string `json:"phase"`
}

// SubmitInput is an optimistic record as submitted by a client.
type SubmitInput struct {
	ID       string          `json:"id"`
	ParentID string          `json:"parent_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SyncService reads and submits through a Reconciler.
type SyncService struct {
	Loop Reconciler

	// MaxPayloadBytes caps submitted payloads; 0 disables the check.
	MaxPayloadBytes int
	// AllowNewGroups lets Submit start tracking unknown groups.
	AllowNewGroups bool
}

// NewSyncService constructs a SyncService with a 64 KiB payload cap.
func NewSyncService(l Reconciler) *SyncService {
	return &SyncService{Loop: l, MaxPayloadBytes: 64 << 10}
}

var tr = otel.Tracer("services/SyncService")

// Groups summarizes every tracked group.
func (s *SyncService) Groups(ctx context.Context) []GroupSummary {
	_, span := tr.Start(ctx, "Groups")
	defer span.End()

	keys := s.Loop.Groups()
	out := make([]GroupSummary, 0, len(keys))
	for _, k := range keys {
		p, c := s.Loop.Counts(k)
		out = append(out, GroupSummary{Key: k, Pending: p, Confirmed: c, Phase: s.Loop.Phase(k).String()})
	}
	span.SetAttributes(attribute.Int("groups", len(out)))
	return out
}

// ListPage returns a page of group's records ordered by (CreatedAt, ID) and
// the total number matching state. A nil state matches both.
func (s *SyncService) ListPage(ctx context.Context, group string, state *domain.State, page, pageSize int) ([]domain.Record, int, error) {
	group = domain.NormalizeGroupKey(group)
	_, span := tr.Start(ctx, "ListPage", trace.WithAttributes(
		attribute.String("group", group),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	if !s.Loop.Tracked(group) {
		return nil, 0, ErrUnknownGroup
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	all := s.Loop.Records(group)
	if state != nil {
		filtered := all[:0]
		for _, r := range all {
			if r.State == *state {
				filtered = append(filtered, r)
			}
		}
		all = filtered
	}

	return utils.Page(all, page, pageSize), len(all), nil
}

// Tree returns the organized threads of group.
func (s *SyncService) Tree(ctx context.Context, group string) ([]*thread.Node, error) {
	group = domain.NormalizeGroupKey(group)
	_, span := tr.Start(ctx, "Tree", trace.WithAttributes(attribute.String("group", group)))
	defer span.End()

	if !s.Loop.Tracked(group) {
		return nil, ErrUnknownGroup
	}
	return s.Loop.Tree(group), nil
}

// Submit registers a local pending record. It reports whether the record was
// new; a known id is accepted without change.
func (s *SyncService) Submit(ctx context.Context, group string, in SubmitInput) (domain.Record, bool, error) {
	group = domain.NormalizeGroupKey(group)
	ctx, span := tr.Start(ctx, "Submit", trace.WithAttributes(
		attribute.String("group", group),
		attribute.String("record.id", in.ID),
	))
	defer span.End()

	if !s.AllowNewGroups && !s.Loop.Tracked(group) {
		return domain.Record{}, false, ErrUnknownGroup
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return domain.Record{}, false, fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if s.MaxPayloadBytes > 0 && len(in.Payload) > s.MaxPayloadBytes {
		return domain.Record{}, false, ErrPayloadTooLarge
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return domain.Record{}, false, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidRecord)
	}

	r := domain.Record{
		ID:       in.ID,
		GroupKey: group,
		Payload:  in.Payload,
		ParentID: strings.TrimSpace(in.ParentID),
		State:    domain.Pending,
		Origin:   domain.Local,
	}
	inserted, err := s.Loop.SubmitLocal(ctx, r)
	if err != nil {
		var me *domain.MalformedRecordError
		switch {
		case errors.Is(err, reconcile.ErrStopped):
			return domain.Record{}, false, ErrUnavailable
		case errors.As(err, &me):
			return domain.Record{}, false, fmt.Errorf("%w: %s", ErrInvalidRecord, me.Reason)
		}
		return domain.Record{}, false, err
	}

	for _, cur := range s.Loop.Records(group) {
		if cur.ID == r.ID {
			return cur, inserted, nil
		}
	}
	return r, inserted, nil
}

// Subscribe forwards tree updates of group to fn until the returned function
// is called.
func (s *SyncService) Subscribe(group string, fn reconcile.Listener) (func(), error) {
	group = domain.NormalizeGroupKey(group)
	if !s.Loop.Tracked(group) {
		return nil, ErrUnknownGroup
	}
	return s.Loop.OnUpdate(group, fn), nil
}
