package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// retryAfterBadTick is how long the scheduler waits when the next cron tick
// cannot be computed.
const retryAfterBadTick = 30 * time.Second

// Retention periodically trims every tracked group to its newest Keep
// records, on a cron schedule.
type Retention struct {
	loop *Loop
	cron string
	keep int
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	running bool
}

// NewRetention validates expr and returns a Retention bound to l.
func NewRetention(l *Loop, expr string, keep int) (*Retention, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("retention: invalid cron expression %q", expr)
	}
	if keep <= 0 {
		return nil, fmt.Errorf("retention: keep must be positive, got %d", keep)
	}
	return &Retention{
		loop: l,
		cron: expr,
		keep: keep,
		log:  l.log.With().Str("component", "retention").Logger(),
		now:  l.now,
	}, nil
}

// Run blocks, pruning at every cron tick until ctx is done.
func (r *Retention) Run(ctx context.Context) {
	r.log.Info().Str("cron", r.cron).Int("keep", r.keep).Msg("retention enabled")
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now(), false)
		if err != nil {
			r.log.Error().Err(err).Str("cron", r.cron).Msg("next tick failed")
			if !sleep(ctx, retryAfterBadTick) {
				return
			}
			continue
		}
		wait := next.Sub(r.now())
		if wait <= 0 {
			wait = time.Second
		}
		if !sleep(ctx, wait) {
			return
		}
		r.RunOnce(ctx)
	}
}

// RunOnce prunes every group now and returns the removed count per group.
// Overlapping calls return nil.
func (r *Retention) RunOnce(ctx context.Context) map[string]int {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	out := make(map[string]int)
	total := 0
	for _, g := range r.loop.Groups() {
		if n := len(r.loop.Prune(ctx, g, r.keep)); n > 0 {
			out[g] = n
			total += n
		}
	}
	r.log.Info().Int("pruned", total).Int("groups", len(out)).Msg("retention run done")
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
