// Package domain defines the reconciled record model shared by the store,
// the thread organizer, the reconciliation loop and the persistence layer.
// Records are partitioned by group key (a chat room, or an order book) and
// identified by a content-addressed id such as a ledger transaction or box id.
package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// State is the confirmation state of a Record. A record only ever moves from
// Pending to Confirmed.
type State uint8

const (
	Pending State = iota
	Confirmed
)

// String returns the wire name of the state.
func (s State) String() string {
	if s == Confirmed {
		return "confirmed"
	}
	return "pending"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	st, ok := ParseState(string(b))
	if !ok {
		return &MalformedRecordError{Reason: "unknown state " + string(b)}
	}
	*s = st
	return nil
}

// ParseState maps "pending"/"confirmed" (case-insensitive) to a State.
func ParseState(v string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pending":
		return Pending, true
	case "confirmed":
		return Confirmed, true
	}
	return Pending, false
}

// Origin tells whether this process submitted the record itself (Local) or
// only observed it through polling (Remote).
type Origin uint8

const (
	Remote Origin = iota
	Local
)

// String returns the wire name of the origin.
func (o Origin) String() string {
	if o == Local {
		return "local"
	}
	return "remote"
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "local":
		*o = Local
	case "remote", "":
		*o = Remote
	default:
		return &MalformedRecordError{Reason: "unknown origin " + string(b)}
	}
	return nil
}

// Record is the unit of reconciled state.
//
// Fields:
//   - ID: content-addressed identifier, unique within GroupKey.
//   - GroupKey: logical partition; records never merge across group keys.
//   - Payload: opaque, already-decoded domain data (message body, order terms).
//   - CreatedAt: unix seconds, from the ledger or the local clock.
//   - ParentID: optional reply target inside the same GroupKey.
//   - State / Origin: see State and Origin.
type Record struct {
	ID        string          `json:"id"`
	GroupKey  string          `json:"group_key"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at"`
	ParentID  string          `json:"parent_id,omitempty"`
	State     State           `json:"state"`
	Origin    Origin          `json:"origin"`
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	if r.Payload != nil {
		r.Payload = bytes.Clone(r.Payload)
	}
	return r
}

// IsLocalPending reports whether r is an optimistic entry still awaiting
// confirmation.
func (r Record) IsLocalPending() bool {
	return r.State == Pending && r.Origin == Local
}

// Validate checks the basic shape of a record destined for group.
// A record with an empty GroupKey is accepted and later stamped with group.
func (r Record) Validate(group string) error {
	if strings.TrimSpace(r.ID) == "" {
		return &MalformedRecordError{Reason: "missing id"}
	}
	if r.CreatedAt < 0 {
		return &MalformedRecordError{ID: r.ID, Reason: "negative created_at"}
	}
	if r.GroupKey != "" && NormalizeGroupKey(r.GroupKey) != group {
		return &MalformedRecordError{ID: r.ID, Reason: "group key " + r.GroupKey + " does not match " + group}
	}
	return nil
}

// NormalizeGroupKey trims and NFC-normalizes a group key so that visually
// identical room names map to the same partition.
func NormalizeGroupKey(k string) string {
	return norm.NFC.String(strings.TrimSpace(k))
}

// Less orders records by CreatedAt, then ID. It is the ordering used for
// thread display and for bounded snapshots.
func Less(a, b Record) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
