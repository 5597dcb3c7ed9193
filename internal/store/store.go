// Package store holds the authoritative in-memory view of reconciled records,
// partitioned by group key.
//
// Every mutation is keyed by (group, id), so ingesting the same batch twice,
// or ingesting confirmed and pending batches in either order, converges on
// the same state: a confirmed record is never downgraded, and a pending one
// is promoted in place. Readers always receive copies.
//
// Ids removed by Prune are remembered in a bounded per-group tombstone list
// so that a feed still listing them cannot bring them back.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

// DefaultTombstoneLimit is how many pruned ids each group remembers.
const DefaultTombstoneLimit = 4096

// Store is safe for concurrent use. The zero value is not usable; call New.
type Store struct {
	mu         sync.RWMutex
	groups     map[string]map[string]domain.Record
	pruned     map[string]*tombstones
	pruneLimit int
	now        func() time.Time
}

// tombstones is a FIFO-bounded id set.
type tombstones struct {
	ids   map[string]struct{}
	order []string
}

func (t *tombstones) add(id string, limit int) {
	if _, ok := t.ids[id]; ok {
		return
	}
	t.ids[id] = struct{}{}
	t.order = append(t.order, id)
	for len(t.order) > limit {
		delete(t.ids, t.order[0])
		t.order = t.order[1:]
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used by ExpirePending.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTombstoneLimit sets how many pruned ids each group remembers.
// Zero disables tombstones.
func WithTombstoneLimit(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.pruneLimit = n
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		groups:     make(map[string]map[string]domain.Record),
		pruned:     make(map[string]*tombstones),
		pruneLimit: DefaultTombstoneLimit,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// partition returns the map for group, creating it when create is true.
// Callers must hold mu.
func (s *Store) partition(group string, create bool) map[string]domain.Record {
	p, ok := s.groups[group]
	if !ok && create {
		p = make(map[string]domain.Record)
		s.groups[group] = p
	}
	return p
}

// retired reports whether id was pruned from group and is still remembered.
// Callers must hold mu.
func (s *Store) retired(group, id string) bool {
	t, ok := s.pruned[group]
	if !ok {
		return false
	}
	_, ok = t.ids[id]
	return ok
}

// IngestConfirmed merges a confirmed snapshot into group. Unknown ids are
// inserted as Confirmed; known Pending ids are promoted in place and take the
// confirmed CreatedAt; known Confirmed ids and pruned ids are left untouched.
// It returns the ids that became confirmed during this call.
func (s *Store) IngestConfirmed(group string, records []domain.Record) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(group, true)
	var confirmed []string
	for _, r := range records {
		cur, known := p[r.ID]
		switch {
		case !known && s.retired(group, r.ID):
			continue
		case !known:
			r = r.Clone()
			r.GroupKey = group
			r.State = domain.Confirmed
			p[r.ID] = r
		case cur.State == domain.Pending:
			cur.State = domain.Confirmed
			cur.CreatedAt = r.CreatedAt
			if r.Payload != nil {
				cur.Payload = r.Clone().Payload
			}
			if r.ParentID != "" {
				cur.ParentID = r.ParentID
			}
			p[r.ID] = cur
		default:
			continue
		}
		confirmed = append(confirmed, r.ID)
	}
	return confirmed
}

// IngestPending inserts records unknown to group as Pending with the given
// origin. Known ids, pending or confirmed, are ignored, as are pruned ids.
// It returns the ids that were inserted.
func (s *Store) IngestPending(group string, records []domain.Record, origin domain.Origin) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(group, true)
	var added []string
	for _, r := range records {
		if _, known := p[r.ID]; known || s.retired(group, r.ID) {
			continue
		}
		r = r.Clone()
		r.GroupKey = group
		r.State = domain.Pending
		r.Origin = origin
		p[r.ID] = r
		added = append(added, r.ID)
	}
	return added
}

// AddLocal registers an optimistic entry submitted by this process. It
// reports false when the id is already known to group.
func (s *Store) AddLocal(group string, r domain.Record) bool {
	return len(s.IngestPending(group, []domain.Record{r}, domain.Local)) == 1
}

// ExpirePending removes Pending records of group whose CreatedAt is older
// than maxAge and returns their ids. Confirmed records are never expired.
func (s *Store) ExpirePending(group string, maxAge time.Duration) []string {
	cutoff := s.now().Add(-maxAge).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, r := range s.partition(group, false) {
		if r.State == domain.Pending && r.CreatedAt < cutoff {
			delete(s.groups[group], id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// GetAll returns copies of every record in group, in no particular order.
func (s *Store) GetAll(group string) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.partition(group, false)
	out := make([]domain.Record, 0, len(p))
	for _, r := range p {
		out = append(out, r.Clone())
	}
	return out
}

// Get returns a copy of a single record.
func (s *Store) Get(group, id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.partition(group, false)[id]
	if !ok {
		return domain.Record{}, false
	}
	return r.Clone(), true
}

// Remove deletes (group, id). It reports whether anything was removed.
func (s *Store) Remove(group, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(group, false)
	if _, ok := p[id]; !ok {
		return false
	}
	delete(p, id)
	return true
}

// Len returns the number of records in group.
func (s *Store) Len(group string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[group])
}

// Count returns the number of pending and confirmed records in group.
func (s *Store) Count(group string) (pending, confirmed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.groups[group] {
		if r.State == domain.Confirmed {
			confirmed++
		} else {
			pending++
		}
	}
	return pending, confirmed
}

// Groups returns the known group keys in lexical order.
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// LocalPending returns every Local, still-Pending record across all groups.
func (s *Store) LocalPending() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Record
	for _, p := range s.groups {
		for _, r := range p {
			if r.IsLocalPending() {
				out = append(out, r.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out
}

// Prune drops the oldest Confirmed records of group until at most keep
// confirmed records remain. Pending records are left for ExpirePending.
// Removed ids are tombstoned so later ingests skip them. It returns the
// removed ids.
func (s *Store) Prune(group string, keep int) []string {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(group, false)
	confirmed := make([]domain.Record, 0, len(p))
	for _, r := range p {
		if r.State == domain.Confirmed {
			confirmed = append(confirmed, r)
		}
	}
	if len(confirmed) <= keep {
		return nil
	}
	sort.Slice(confirmed, func(i, j int) bool { return domain.Less(confirmed[i], confirmed[j]) })

	drop := confirmed[:len(confirmed)-keep]
	removed := make([]string, 0, len(drop))
	for _, r := range drop {
		delete(p, r.ID)
		removed = append(removed, r.ID)
	}
	if s.pruneLimit > 0 {
		t, ok := s.pruned[group]
		if !ok {
			t = &tombstones{ids: make(map[string]struct{})}
			s.pruned[group] = t
		}
		for _, id := range removed {
			t.add(id, s.pruneLimit)
		}
	}
	return removed
}
