// Package persist snapshots reconciled records to a key/value store so that
// a restart does not need to re-fetch full history.
//
// Persistence is best-effort. No method returns an error: failures are
// wrapped in domain.PersistenceError, logged, and swallowed, so a broken or
// full backend can never stall the reconciliation loop.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

const (
	// DefaultLimit caps the number of records kept per group snapshot.
	DefaultLimit = 1000
	// DefaultExpiry is the window after which local pending entries are stale.
	DefaultExpiry = 10 * time.Minute

	snapshotVersion = 1
	keyPrefix       = "ledgersync:"
	localPendingKey = keyPrefix + "local-pending"
)

// KV is the durable key/value store the adapter writes through. Get reports
// domain.ErrKeyNotFound for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// envelope is the on-disk snapshot format.
type envelope struct {
	Version int             `json:"version"`
	SavedAt int64           `json:"saved_at"`
	Records []domain.Record `json:"records"`
}

// Options configures an Adapter.
type Options struct {
	Limit  int           // per-group snapshot size; <= 0 means DefaultLimit
	Expiry time.Duration // local pending window; <= 0 means DefaultExpiry
	Logger *zerolog.Logger
	Clock  func() time.Time
}

// Adapter reads and writes bounded snapshots through a KV.
type Adapter struct {
	kv     KV
	limit  int
	expiry time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// New returns an Adapter over kv.
func New(kv KV, opts Options) *Adapter {
	a := &Adapter{
		kv:     kv,
		limit:  opts.Limit,
		expiry: opts.Expiry,
		log:    log.Logger,
		now:    opts.Clock,
	}
	if a.limit <= 0 {
		a.limit = DefaultLimit
	}
	if a.expiry <= 0 {
		a.expiry = DefaultExpiry
	}
	if opts.Logger != nil {
		a.log = *opts.Logger
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.log = a.log.With().Str("component", "persist").Logger()
	return a
}

// Limit returns the per-group snapshot cap.
func (a *Adapter) Limit() int { return a.limit }

// Expiry returns the local pending window applied on load.
func (a *Adapter) Expiry() time.Duration { return a.expiry }

// SnapshotKey is the KV key under which group is stored.
func SnapshotKey(group string) string { return keyPrefix + "snapshot:" + group }

// Save writes the most recent Limit records of group, ordered by
// (CreatedAt, ID).
func (a *Adapter) Save(ctx context.Context, group string, records []domain.Record) {
	a.write(ctx, SnapshotKey(group), Newest(records, a.limit))
}

// Load reads the snapshot of group. A missing or unreadable snapshot yields
// an empty slice.
func (a *Adapter) Load(ctx context.Context, group string) []domain.Record {
	recs := a.read(ctx, SnapshotKey(group))
	out := recs[:0]
	for _, r := range recs {
		if r.GroupKey == "" {
			r.GroupKey = group
		}
		if r.GroupKey != group {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Forget removes the snapshot of group.
func (a *Adapter) Forget(ctx context.Context, group string) {
	key := SnapshotKey(group)
	if err := a.kv.Remove(ctx, key); err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
		a.fail("remove", key, err)
	}
}

// SaveLocalPendingSet stores the optimistic entries of every group. Records
// that are not Local and Pending are ignored.
func (a *Adapter) SaveLocalPendingSet(ctx context.Context, records []domain.Record) {
	local := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if r.IsLocalPending() {
			local = append(local, r)
		}
	}
	if len(local) == 0 {
		if err := a.kv.Remove(ctx, localPendingKey); err != nil && !errors.Is(err, domain.ErrKeyNotFound) {
			a.fail("remove", localPendingKey, err)
		}
		return
	}
	a.write(ctx, localPendingKey, Newest(local, a.limit))
}

// LoadLocalPendingSet returns stored optimistic entries still inside the
// expiry window, so stale submissions are never resurrected.
func (a *Adapter) LoadLocalPendingSet(ctx context.Context) []domain.Record {
	cutoff := a.now().Add(-a.expiry).Unix()
	recs := a.read(ctx, localPendingKey)
	out := recs[:0]
	for _, r := range recs {
		if !r.IsLocalPending() || r.GroupKey == "" || r.CreatedAt < cutoff {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (a *Adapter) write(ctx context.Context, key string, records []domain.Record) {
	b, err := json.Marshal(envelope{
		Version: snapshotVersion,
		SavedAt: a.now().Unix(),
		Records: records,
	})
	if err != nil {
		a.fail("encode", key, err)
		return
	}
	if err := a.kv.Set(ctx, key, string(b)); err != nil {
		a.fail("set", key, err)
		return
	}
	a.log.Debug().Str("key", key).Int("records", len(records)).Msg("snapshot saved")
}

func (a *Adapter) read(ctx context.Context, key string) []domain.Record {
	raw, err := a.kv.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return []domain.Record{}
	}
	if err != nil {
		a.fail("get", key, err)
		return []domain.Record{}
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		a.fail("decode", key, err)
		return []domain.Record{}
	}
	if env.Version != snapshotVersion {
		a.fail("decode", key, errors.New("unsupported snapshot version"))
		return []domain.Record{}
	}
	out := make([]domain.Record, 0, len(env.Records))
	for _, r := range env.Records {
		if err := r.Validate(domain.NormalizeGroupKey(r.GroupKey)); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("dropping snapshot record")
			continue
		}
		out = append(out, r)
	}
	return out
}

func (a *Adapter) fail(op, key string, err error) {
	perr := &domain.PersistenceError{Op: op, Key: key, Err: err}
	a.log.Warn().Err(perr).Str("op", op).Str("key", key).Msg("persistence failed")
}

// Newest returns the n most recent records by (CreatedAt, ID), oldest first.
// The input is not modified.
func Newest(records []domain.Record, n int) []domain.Record {
	sorted := append([]domain.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return domain.Less(sorted[i], sorted[j]) })
	if n > 0 && len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}
