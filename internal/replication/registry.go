// Package replication tracks connected replicas, WAIT waiters, and
// blocked XREAD clients on the primary side, and drives the replica
// link state machine on the replica side (spec.md §4.6, §4.8).
package replication

import "time"

// Replica is one connected replica's bookkeeping entry. Fd identifies
// its connection for the reactor and for routing propagated writes;
// AssignedOffset is the byte offset through the replication stream the
// primary has sent it, AckedOffset the last offset it has confirmed
// via REPLCONF ACK.
type Replica struct {
	Fd             int
	Addr           string
	ListeningPort  int
	AssignedOffset int64
	AckedOffset    int64
}

// Registry holds every connected replica, keyed by connection fd.
type Registry struct {
	byFd map[int]*Replica
}

// NewRegistry returns an empty replica registry.
func NewRegistry() *Registry {
	return &Registry{byFd: make(map[int]*Replica)}
}

// Add registers a new replica link after PSYNC, starting both offsets
// at the primary's current replication offset.
func (r *Registry) Add(fd int, addr string, listeningPort int, startOffset int64) *Replica {
	rep := &Replica{Fd: fd, Addr: addr, ListeningPort: listeningPort, AssignedOffset: startOffset, AckedOffset: startOffset}
	r.byFd[fd] = rep
	return rep
}

// Remove drops a replica, e.g. when its connection closes.
func (r *Registry) Remove(fd int) {
	delete(r.byFd, fd)
}

// Get returns the replica at fd, if any.
func (r *Registry) Get(fd int) (*Replica, bool) {
	rep, ok := r.byFd[fd]
	return rep, ok
}

// All returns every connected replica. Order is unspecified.
func (r *Registry) All() []*Replica {
	out := make([]*Replica, 0, len(r.byFd))
	for _, rep := range r.byFd {
		out = append(out, rep)
	}
	return out
}

// Count reports how many replicas are connected.
func (r *Registry) Count() int {
	return len(r.byFd)
}

// Ack records a REPLCONF ACK from the replica at fd.
func (r *Registry) Ack(fd int, offset int64) {
	if rep, ok := r.byFd[fd]; ok {
		rep.AckedOffset = offset
	}
}

// CountCaughtUp returns how many replicas have acknowledged at least
// as many bytes as the primary has assigned (sent) them (spec.md
// §4.8, WAIT). Each replica is compared against its own AssignedOffset
// rather than a global snapshot, since replicas can join at different
// points in the replication stream.
func (r *Registry) CountCaughtUp() int {
	n := 0
	for _, rep := range r.byFd {
		if rep.AckedOffset >= rep.AssignedOffset {
			n++
		}
	}
	return n
}

// Waiter is one client blocked in WAIT, released once enough replicas
// catch up (per Registry.CountCaughtUp) or Deadline passes.
type Waiter struct {
	Fd        int
	MinCount  int
	Deadline  time.Time
	NoTimeout bool
}

// Blocker is one client blocked in XREAD BLOCK, released once key
// gains an entry with an identifier strictly greater than After, or
// Deadline passes (NoTimeout means block indefinitely).
type Blocker struct {
	Fd        int
	Key       string
	AfterMS   int64
	AfterSeq  int64
	Deadline  time.Time
	NoTimeout bool
}
