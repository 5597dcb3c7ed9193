// Package reconcile drives the polling cycle that keeps the record store in
// step with the ledger.
//
// A Loop owns every write to its store. For each tracked group it runs a
// fast cadence that only fetches and merges, and a slow cadence that also
// expires stale pending entries, rebuilds the thread tree, notifies
// listeners, and snapshots to the persistence adapter. Cycles for one group
// never overlap: a tick that lands while a cycle is in flight is dropped.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/store"
	"github.com/tbourn/go-ledger-sync/internal/thread"
)

var (
	// ErrStopped is returned by operations attempted after Stop.
	ErrStopped = errors.New("reconcile: loop stopped")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("reconcile: loop already started")
)

const (
	DefaultFastInterval  = 2 * time.Second
	DefaultSlowInterval  = 6 * time.Second
	DefaultPendingExpiry = 10 * time.Minute

	finalSnapshotTimeout = 5 * time.Second
)

var tracer = otel.Tracer("reconcile/Loop")

// ConfirmedPoller fetches the records the ledger has finalized for a group.
// Implementations must honor ctx cancellation.
type ConfirmedPoller interface {
	FetchConfirmed(ctx context.Context, group string) ([]domain.Record, error)
}

// PendingPoller fetches the records currently waiting for inclusion.
type PendingPoller interface {
	FetchPending(ctx context.Context, group string) ([]domain.Record, error)
}

// Snapshotter is the persistence surface the loop writes through.
// *persist.Adapter satisfies it.
type Snapshotter interface {
	Save(ctx context.Context, group string, records []domain.Record)
	Load(ctx context.Context, group string) []domain.Record
	SaveLocalPendingSet(ctx context.Context, records []domain.Record)
	LoadLocalPendingSet(ctx context.Context) []domain.Record
}

// Cadence selects how much work a cycle does.
type Cadence int

const (
	// Fast fetches and merges only.
	Fast Cadence = iota
	// Full also expires, organizes, notifies and snapshots.
	Full
)

func (c Cadence) String() string {
	if c == Full {
		return "full"
	}
	return "fast"
}

// Phase is the per-group cycle state.
type Phase int

const (
	Idle Phase = iota
	Polling
	Merging
)

func (p Phase) String() string {
	switch p {
	case Polling:
		return "polling"
	case Merging:
		return "merging"
	default:
		return "idle"
	}
}

// Options configures a Loop. Zero values fall back to the package defaults.
type Options struct {
	Groups        []string
	FastInterval  time.Duration
	SlowInterval  time.Duration
	FetchTimeout  time.Duration // per fetch; defaults to FastInterval
	PendingExpiry time.Duration
	// MaxConcurrent bounds how many groups cycle at once; <= 0 means unbounded.
	MaxConcurrent int
	Persist       Snapshotter
	Logger        *zerolog.Logger
	Clock         func() time.Time
}

type groupState struct {
	phase Phase
}

// Loop reconciles a Store against a pair of pollers.
type Loop struct {
	store     *store.Store
	confirmed ConfirmedPoller
	pending   PendingPoller
	persist   Snapshotter
	hub       *Hub

	fast, slow    time.Duration
	fetchTimeout  time.Duration
	pendingExpiry time.Duration
	maxConcurrent int
	log           zerolog.Logger
	now           func() time.Time

	mu      sync.Mutex
	groups  map[string]*groupState
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a Loop. The loop does nothing until Start is called, but
// RunCycle may be used directly.
func New(s *store.Store, cp ConfirmedPoller, pp PendingPoller, opts Options) *Loop {
	l := &Loop{
		store:         s,
		confirmed:     cp,
		pending:       pp,
		persist:       opts.Persist,
		hub:           NewHub(),
		fast:          opts.FastInterval,
		slow:          opts.SlowInterval,
		fetchTimeout:  opts.FetchTimeout,
		pendingExpiry: opts.PendingExpiry,
		maxConcurrent: opts.MaxConcurrent,
		log:           log.Logger,
		now:           opts.Clock,
		groups:        make(map[string]*groupState),
	}
	if opts.Logger != nil {
		l.log = *opts.Logger
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.fast <= 0 {
		l.fast = DefaultFastInterval
	}
	if l.slow <= 0 {
		l.slow = DefaultSlowInterval
	}
	if l.fetchTimeout <= 0 {
		l.fetchTimeout = l.fast
	}
	if l.pendingExpiry <= 0 {
		l.pendingExpiry = DefaultPendingExpiry
	}
	for _, g := range opts.Groups {
		l.Track(g)
	}
	return l
}

// Track adds group to the set of polled groups and returns its normalized key.
func (l *Loop) Track(group string) string {
	group = domain.NormalizeGroupKey(group)
	if group == "" {
		return ""
	}
	l.mu.Lock()
	if _, ok := l.groups[group]; !ok {
		l.groups[group] = &groupState{}
	}
	l.mu.Unlock()
	return group
}

// Tracked reports whether group is polled by this loop.
func (l *Loop) Tracked(group string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.groups[domain.NormalizeGroupKey(group)]
	return ok
}

// Groups returns the tracked group keys in sorted order.
func (l *Loop) Groups() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.groups))
	for g := range l.groups {
		out = append(out, g)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}

// Phase returns the cycle state of group. Untracked groups are Idle.
func (l *Loop) Phase(group string) Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gs, ok := l.groups[domain.NormalizeGroupKey(group)]; ok {
		return gs.phase
	}
	return Idle
}

// Start restores persisted state, runs one full cycle for every group, and
// then schedules both cadences until ctx is canceled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	l.mu.Unlock()

	l.restore(ctx)
	l.RunAll(ctx, Full)

	go l.schedule(ctx)

	l.log.Info().
		Strs("groups", l.Groups()).
		Dur("fast", l.fast).
		Dur("slow", l.slow).
		Msg("reconcile loop started")
	return nil
}

// Stop cancels scheduled cycles, waits for in-flight ones to finish, and
// writes a final snapshot. After Stop returns the store is never mutated
// by this loop again. Stop is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()

	if l.persist != nil {
		ctx, done := context.WithTimeout(context.Background(), finalSnapshotTimeout)
		defer done()
		for _, g := range l.Groups() {
			l.persist.Save(ctx, g, l.store.GetAll(g))
		}
		l.persist.SaveLocalPendingSet(ctx, l.store.LocalPending())
	}
	l.log.Info().Msg("reconcile loop stopped")
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) schedule(ctx context.Context) {
	defer l.wg.Done()

	fast := time.NewTicker(l.fast)
	defer fast.Stop()
	slow := time.NewTicker(l.slow)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			l.dispatch(ctx, Fast)
		case <-slow.C:
			l.dispatch(ctx, Full)
		}
	}
}

// dispatch runs a cadence for all groups without blocking the scheduler.
// The scheduler goroutine holds a wg slot, so Add here cannot race Wait.
func (l *Loop) dispatch(ctx context.Context, c Cadence) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.RunAll(ctx, c)
	}()
}

// RunAll runs one cycle of cadence c for every tracked group and waits for
// them. It returns how many cycles actually ran.
func (l *Loop) RunAll(ctx context.Context, c Cadence) int {
	var (
		g   errgroup.Group
		ran atomic.Int32
	)
	if l.maxConcurrent > 0 {
		g.SetLimit(l.maxConcurrent)
	}
	for _, group := range l.Groups() {
		g.Go(func() error {
			if l.RunCycle(ctx, group, c) {
				ran.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ran.Load())
}

// acquire moves group out of Idle. It fails when the group is unknown,
// already cycling, or the loop is stopped.
func (l *Loop) acquire(group string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	gs, ok := l.groups[group]
	if !ok || l.stopped || gs.phase != Idle {
		return false
	}
	gs.phase = Polling
	l.wg.Add(1)
	return true
}

func (l *Loop) setPhase(group string, p Phase) {
	l.mu.Lock()
	if gs, ok := l.groups[group]; ok {
		gs.phase = p
	}
	l.mu.Unlock()
}

func (l *Loop) release(group string) {
	l.setPhase(group, Idle)
	l.wg.Done()
}

// RunCycle runs a single cycle for group. It reports false when the cycle
// was dropped because another one is in flight, the group is not tracked,
// or the loop is stopped.
//
// A poll failure leaves the store untouched; a full cycle still organizes
// and notifies from the last known state.
func (l *Loop) RunCycle(ctx context.Context, group string, c Cadence) bool {
	group = domain.NormalizeGroupKey(group)
	if !l.acquire(group) {
		ticksDropped.WithLabelValues(group, c.String()).Inc()
		return false
	}
	defer l.release(group)

	start := time.Now()
	ctx, span := tracer.Start(ctx, "reconcile.cycle", trace.WithAttributes(
		attribute.String("group", group),
		attribute.String("cadence", c.String()),
	))
	defer span.End()

	outcome := "ok"
	confirmed, pending, err := l.fetch(ctx, group)
	switch {
	case err != nil && ctx.Err() != nil:
		outcome = "canceled"
	case err != nil:
		outcome = "poll_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		l.log.Warn().Err(err).Str("group", group).Str("cadence", c.String()).
			Msg("poll failed; keeping last known state")
	default:
		l.merge(group, confirmed, pending, c)
	}

	if c == Full && outcome != "canceled" {
		l.publish(group)
		l.snapshot(ctx, group)
	}

	cyclesTotal.WithLabelValues(group, c.String(), outcome).Inc()
	cycleDuration.WithLabelValues(group, c.String()).Observe(time.Since(start).Seconds())
	return true
}

func (l *Loop) fetch(ctx context.Context, group string) (confirmed, pending []domain.Record, err error) {
	confirmed, err = l.fetchOne(ctx, group, "confirmed", l.confirmed.FetchConfirmed)
	if err != nil {
		return nil, nil, err
	}
	pending, err = l.fetchOne(ctx, group, "pending", l.pending.FetchPending)
	if err != nil {
		return nil, nil, err
	}
	return confirmed, pending, nil
}

type fetchResult struct {
	records []domain.Record
	err     error
}

// fetchOne bounds a poller call by the fetch timeout. A poller that ignores
// its context is abandoned once the deadline passes.
func (l *Loop) fetchOne(
	ctx context.Context,
	group, source string,
	fn func(context.Context, string) ([]domain.Record, error),
) ([]domain.Record, error) {
	fctx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		recs, err := fn(fctx, group)
		ch <- fetchResult{recs, err}
	}()

	var res fetchResult
	select {
	case res = <-ch:
	case <-fctx.Done():
		res.err = fctx.Err()
	}

	if res.err != nil {
		// Shutdown cancels the parent; that is not a feed failure.
		if ctx.Err() == nil {
			pollErrors.WithLabelValues(group, source).Inc()
		}
		var pe *domain.PollError
		if errors.As(res.err, &pe) {
			return nil, res.err
		}
		return nil, &domain.PollError{Group: group, Source: source, Err: res.err}
	}
	return l.sanitize(group, source, res.records), nil
}

// sanitize drops records that fail shape validation.
func (l *Loop) sanitize(group, source string, recs []domain.Record) []domain.Record {
	out := recs[:0:0]
	for _, r := range recs {
		if err := r.Validate(group); err != nil {
			malformedRecords.WithLabelValues(group, source).Inc()
			l.log.Warn().Err(err).Str("group", group).Str("source", source).Msg("dropping malformed record")
			continue
		}
		out = append(out, r)
	}
	return out
}

func (l *Loop) merge(group string, confirmed, pending []domain.Record, c Cadence) {
	l.setPhase(group, Merging)

	promoted := l.store.IngestConfirmed(group, confirmed)
	added := l.store.IngestPending(group, pending, domain.Remote)
	var expired []string
	if c == Full {
		expired = l.store.ExpirePending(group, l.pendingExpiry)
		if len(expired) > 0 {
			prunedRecords.WithLabelValues(group, "expired").Add(float64(len(expired)))
		}
	}
	l.observe(group)

	l.log.Debug().
		Str("group", group).
		Str("cadence", c.String()).
		Int("confirmed", len(promoted)).
		Int("pending_added", len(added)).
		Int("expired", len(expired)).
		Msg("merged")
}

func (l *Loop) observe(group string) {
	p, c := l.store.Count(group)
	recordsGauge.WithLabelValues(group, domain.Pending.String()).Set(float64(p))
	recordsGauge.WithLabelValues(group, domain.Confirmed.String()).Set(float64(c))
}

func (l *Loop) publish(group string) {
	l.hub.Notify(group, l.Tree(group))
}

func (l *Loop) snapshot(ctx context.Context, group string) {
	if l.persist == nil {
		return
	}
	l.persist.Save(ctx, group, l.store.GetAll(group))
	l.persist.SaveLocalPendingSet(ctx, l.store.LocalPending())
}

// restore seeds the store from the persistence adapter. Local pending
// entries come from their own set; snapshot copies of them are skipped.
func (l *Loop) restore(ctx context.Context) {
	if l.persist == nil {
		return
	}
	for _, g := range l.Groups() {
		var confirmed, pending []domain.Record
		for _, r := range l.persist.Load(ctx, g) {
			switch {
			case r.State == domain.Confirmed:
				confirmed = append(confirmed, r)
			case r.Origin == domain.Remote:
				pending = append(pending, r)
			}
		}
		l.store.IngestConfirmed(g, confirmed)
		l.store.IngestPending(g, pending, domain.Remote)
		l.observe(g)
		l.log.Debug().Str("group", g).Int("confirmed", len(confirmed)).Int("pending", len(pending)).
			Msg("restored snapshot")
	}

	local := l.persist.LoadLocalPendingSet(ctx)
	for _, r := range local {
		g := l.Track(r.GroupKey)
		if g == "" {
			continue
		}
		l.store.AddLocal(g, r)
	}
	if len(local) > 0 {
		l.log.Info().Int("count", len(local)).Msg("restored local pending entries")
	}
}

// SubmitLocal records an optimistic entry created by this process. The
// group is tracked if it was not already. CreatedAt is always taken from
// the loop clock, so the entry ages out exactly PendingExpiry after
// submission. It reports whether the record was new; resubmitting a known
// id is a no-op.
func (l *Loop) SubmitLocal(ctx context.Context, r domain.Record) (bool, error) {
	group := domain.NormalizeGroupKey(r.GroupKey)
	if group == "" {
		return false, &domain.MalformedRecordError{ID: r.ID, Reason: "missing group key"}
	}
	r.CreatedAt = l.now().Unix()
	if err := r.Validate(group); err != nil {
		return false, err
	}
	r.GroupKey = group

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false, ErrStopped
	}
	if _, ok := l.groups[group]; !ok {
		l.groups[group] = &groupState{}
	}
	// Held across the insert so Stop cannot return in between.
	inserted := l.store.AddLocal(group, r)
	l.mu.Unlock()

	if !inserted {
		return false, nil
	}
	l.observe(group)
	l.publish(group)
	if l.persist != nil {
		l.persist.SaveLocalPendingSet(ctx, l.store.LocalPending())
	}
	l.log.Debug().Str("group", group).Str("id", r.ID).Msg("local record submitted")
	return true, nil
}

// Prune trims group to its newest keep records and notifies listeners when
// anything was removed.
func (l *Loop) Prune(ctx context.Context, group string, keep int) []string {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	removed := l.store.Prune(group, keep)
	l.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	prunedRecords.WithLabelValues(group, "retention").Add(float64(len(removed)))
	l.observe(group)
	l.publish(group)
	l.snapshot(ctx, group)
	return removed
}

// OnUpdate registers fn for tree updates of group and immediately calls it
// with the current tree. The returned function unsubscribes.
func (l *Loop) OnUpdate(group string, fn Listener) func() {
	group = domain.NormalizeGroupKey(group)
	return l.hub.Subscribe(group, fn, func() []*thread.Node { return l.Tree(group) })
}

// Records returns copies of group's records ordered by CreatedAt then ID.
func (l *Loop) Records(group string) []domain.Record {
	recs := l.store.GetAll(domain.NormalizeGroupKey(group))
	sort.Slice(recs, func(i, j int) bool { return domain.Less(recs[i], recs[j]) })
	return recs
}

// Counts returns the pending and confirmed record counts of group.
func (l *Loop) Counts(group string) (pending, confirmed int) {
	return l.store.Count(domain.NormalizeGroupKey(group))
}

// Tree organizes the current records of group into threads.
func (l *Loop) Tree(group string) []*thread.Node {
	return thread.Organize(l.store.GetAll(domain.NormalizeGroupKey(group)))
}

// Store exposes the underlying store for read access.
func (l *Loop) Store() *store.Store { return l.store }
