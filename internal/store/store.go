// Package store implements the keyed data model: string and stream
// values with optional expiry (spec.md §3). It has no locking — per
// spec.md §5 the whole server runs on a single reactor goroutine, so
// the store is only ever touched from that goroutine.
package store

import "time"

// ValueType tags what kind of payload a record holds.
type ValueType int

const (
	StringType ValueType = iota
	StreamType
)

func (t ValueType) String() string {
	switch t {
	case StringType:
		return "string"
	case StreamType:
		return "stream"
	default:
		return "none"
	}
}

// Record is a keyed entry: a type tag, a payload, and an optional
// absolute expiry instant.
type Record struct {
	Type      ValueType
	String    []byte
	Stream    *Stream
	ExpiresAt *time.Time
}

func (r *Record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Store holds every key in the keyspace. Like the teacher's
// storage.Store it keys a flat map by string, but it carries no
// snapshot/COW bookkeeping: single-threaded access makes that teacher
// concern moot here.
type Store struct {
	data map[string]*Record
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string]*Record)}
}

// SetString stores a string value, replacing whatever was at key.
// expiresAt is nil for no expiry.
func (s *Store) SetString(key string, value []byte, expiresAt *time.Time) {
	s.data[key] = &Record{Type: StringType, String: value, ExpiresAt: expiresAt}
}

// GetString returns the string at key, or ok=false if the key is
// absent, expired, or holds a different type. An opportunistically
// expired key is evicted immediately (spec.md §3: "Reads are permitted
// to opportunistically evict").
func (s *Store) GetString(key string, now time.Time) (value []byte, ok bool) {
	rec, present := s.data[key]
	if !present {
		return nil, false
	}
	if rec.expired(now) {
		delete(s.data, key)
		return nil, false
	}
	if rec.Type != StringType {
		return nil, false
	}
	return rec.String, true
}

// Type reports the type tag for key, or ValueType(-1) with ok=false if
// the key is absent or expired.
func (s *Store) Type(key string, now time.Time) (t ValueType, ok bool) {
	rec, present := s.data[key]
	if !present {
		return -1, false
	}
	if rec.expired(now) {
		delete(s.data, key)
		return -1, false
	}
	return rec.Type, true
}

// Keys returns every non-expired key. Only KEYS * is required by
// spec.md, so no glob matching is implemented.
func (s *Store) Keys(now time.Time) []string {
	keys := make([]string, 0, len(s.data))
	for k, rec := range s.data {
		if rec.expired(now) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// ExpireSweep removes every record whose expiry instant has passed
// (spec.md §4.8, step 1). Returns the number of keys evicted.
func (s *Store) ExpireSweep(now time.Time) int {
	evicted := 0
	for k, rec := range s.data {
		if rec.expired(now) {
			delete(s.data, k)
			evicted++
		}
	}
	return evicted
}

// stream returns the live (non-expired) stream at key, creating it on
// first use when create is true.
func (s *Store) stream(key string, now time.Time, create bool) (*Stream, *Record) {
	rec, present := s.data[key]
	if present && rec.expired(now) {
		delete(s.data, key)
		present = false
	}
	if present {
		if rec.Type != StreamType {
			return nil, rec
		}
		return rec.Stream, rec
	}
	if !create {
		return nil, nil
	}
	rec = &Record{Type: StreamType, Stream: newStream()}
	s.data[key] = rec
	return rec.Stream, rec
}
