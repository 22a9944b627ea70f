// Package reactor provides the epoll-backed readiness poller the
// server's single event loop drives (spec.md §4.1). It only reports
// readiness; reading, writing, and buffering stay with the caller, the
// same split rcproxy's netpoll.Poller draws from its eventloop.
package reactor

// Event reports readiness for one registered file descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
}

// Poller is the reactor's registration and polling surface. Register
// starts interested in read-readiness only; callers that need to drain
// a pending write buffer call ModifyWrite(fd, true) and clear it again
// once the buffer empties, mirroring the teacher corpus's
// AddWrite/ModRead pattern of arming write-readiness only while there
// is outbound data queued.
type Poller interface {
	Register(fd int) error
	ModifyWrite(fd int, writable bool) error
	Unregister(fd int) error
	Wait(events []Event, timeoutMillis int) (int, error)
	Close() error
}
