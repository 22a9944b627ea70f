// Package server implements the single-threaded reactor loop, command
// dispatch, and replication fan-out described by spec.md §4.1-§4.8.
package server

import (
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"goredis/internal/clock"
	"goredis/internal/config"
	"goredis/internal/rdb"
	"goredis/internal/reactor"
	"goredis/internal/replication"
	"goredis/internal/resp"
	"goredis/internal/store"
)

const (
	pollTimeoutMillis = 100
	readBufferSize    = 64 * 1024
)

// Server owns every piece of mutable state: the keyspace, the replica
// registry, pending waiters and blockers, and the connection table.
// Everything runs on the goroutine that calls Run, so none of it is
// guarded by a mutex (spec.md §5).
type Server struct {
	cfg   *config.Config
	clock clock.Clock
	log   *logrus.Logger

	store *store.Store

	poller   reactor.Poller
	listenFd int
	conns    map[int]*conn

	replID     string
	replOffset int64
	rawRDB     []byte
	replicas   *replication.Registry
	waiters    []*replication.Waiter
	blockers   []*replication.Blocker

	masterFd        int
	masterConnected bool
	handshake       *replication.Handshake

	closed bool
}

// New constructs a server bound to cfg. It does not open any sockets;
// call Start for that.
func New(cfg *config.Config, clk clock.Clock, log *logrus.Logger) (*Server, error) {
	replID, err := randomHexID(40)
	if err != nil {
		return nil, fmt.Errorf("server: generating replication id: %w", err)
	}
	return &Server{
		cfg:      cfg,
		clock:    clk,
		log:      log,
		store:    store.New(),
		conns:    make(map[int]*conn),
		replID:   replID,
		replicas: replication.NewRegistry(),
		masterFd: -1,
	}, nil
}

func randomHexID(n int) (string, error) {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, n)
	for i, b := range buf {
		out[2*i] = hex[b>>4]
		out[2*i+1] = hex[b&0x0F]
	}
	return string(out), nil
}

// IsReplica reports whether this process is configured with --replicaof.
func (s *Server) IsReplica() bool { return s.cfg.IsReplica() }

// Start loads any existing RDB snapshot, opens the listening socket,
// and, if configured as a replica, begins dialing the primary.
func (s *Server) Start() error {
	records, err := rdb.Load(s.cfg.RDBPath())
	if err != nil {
		s.log.WithError(err).Warn("failed to load rdb snapshot, starting with an empty keyspace")
	} else {
		now := s.clock.Now()
		for _, rec := range records {
			s.store.SetString(rec.Key, rec.Value, rec.ExpiresAt)
		}
		s.log.WithField("keys", len(records)).WithField("at", now).Info("loaded rdb snapshot")
	}

	raw, err := rdb.LoadRaw(s.cfg.RDBPath())
	if err != nil {
		return fmt.Errorf("server: reading rdb file for psync: %w", err)
	}
	s.rawRDB = raw

	poller, err := reactor.NewPoller()
	if err != nil {
		return err
	}
	s.poller = poller

	fd, err := listenTCP(s.cfg.Host, s.cfg.Port)
	if err != nil {
		return err
	}
	s.listenFd = fd
	if err := s.poller.Register(fd); err != nil {
		return fmt.Errorf("server: registering listener: %w", err)
	}
	s.log.WithField("addr", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)).Info("listening")

	if s.IsReplica() {
		if err := s.dialMaster(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) dialMaster() error {
	host, port, err := s.cfg.MasterAddr()
	if err != nil {
		return err
	}
	fd, err := dialTCP(host, port)
	if err != nil {
		return fmt.Errorf("server: connecting to master %s:%d: %w", host, port, err)
	}
	s.masterFd = fd
	s.handshake = replication.NewHandshake(s.cfg.Port)
	c := &conn{fd: fd, kind: kindMasterLink, addr: fmt.Sprintf("%s:%d", host, port)}
	s.conns[fd] = c
	if err := s.poller.Register(fd); err != nil {
		return fmt.Errorf("server: registering master link: %w", err)
	}
	c.queue(s.handshake.Start())
	if err := s.poller.ModifyWrite(fd, true); err != nil {
		return err
	}
	s.log.WithField("master", c.addr).Info("connecting to master")
	return nil
}

// Run drives the reactor loop until stop is closed.
func (s *Server) Run(stop <-chan struct{}) error {
	events := make([]reactor.Event, 128)
	for {
		select {
		case <-stop:
			return s.Close()
		default:
		}

		n, err := s.poller.Wait(events, pollTimeoutMillis)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Fd == s.listenFd {
				s.acceptLoop()
				continue
			}
			if ev.Readable {
				s.handleReadable(ev.Fd)
			}
			if ev.Writable {
				s.handleWritable(ev.Fd)
			}
		}

		s.runPeriodic()
	}
}

func (s *Server) acceptLoop() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				s.log.WithError(err).Warn("accept failed")
			}
			return
		}
		_ = unix.SetNonblock(fd, true)
		c := &conn{fd: fd, kind: kindClient, addr: sockaddrString(sa)}
		s.conns[fd] = c
		if err := s.poller.Register(fd); err != nil {
			s.log.WithError(err).Warn("failed to register accepted connection")
			_ = unix.Close(fd)
			delete(s.conns, fd)
			continue
		}
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	default:
		return "unknown"
	}
}

func (s *Server) handleReadable(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	buf := make([]byte, readBufferSize)
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		s.closeConn(fd)
		return
	}
	if n == 0 {
		s.closeConn(fd)
		return
	}
	c.readBuf = append(c.readBuf, buf[:n]...)

	var dispatchErr error
	switch c.kind {
	case kindMasterLink:
		dispatchErr = s.drainMasterLink(c)
	default:
		dispatchErr = c.drainCommands(func(cmd *resp.Command) error {
			return s.dispatchClientCommand(c, cmd)
		})
	}
	if dispatchErr != nil {
		s.log.WithError(dispatchErr).WithField("addr", c.addr).Warn("closing connection after protocol error")
		s.closeConn(fd)
		return
	}
	if len(c.writeBuf) > 0 {
		s.flush(c)
	}
}

func (s *Server) handleWritable(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	if c.kind == kindMasterLink && !s.masterConnected {
		s.masterConnected = true
	}
	s.flush(c)
}

// flush writes as much of c.writeBuf as the socket accepts right now,
// re-arming write-readiness only while bytes remain queued.
func (s *Server) flush(c *conn) {
	for len(c.writeBuf) > 0 {
		n, err := unix.Write(c.fd, c.writeBuf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			s.closeConn(c.fd)
			return
		}
		c.writeBuf = c.writeBuf[n:]
	}
	_ = s.poller.ModifyWrite(c.fd, len(c.writeBuf) > 0)
}

func (s *Server) closeConn(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	_ = s.poller.Unregister(fd)
	_ = unix.Close(fd)
	delete(s.conns, fd)
	s.replicas.Remove(fd)
	s.dropWaitersAndBlockersFor(fd)
	if fd == s.masterFd {
		s.masterFd = -1
		s.masterConnected = false
	}
}

func (s *Server) dropWaitersAndBlockersFor(fd int) {
	waiters := s.waiters[:0]
	for _, w := range s.waiters {
		if w.Fd != fd {
			waiters = append(waiters, w)
		}
	}
	s.waiters = waiters

	blockers := s.blockers[:0]
	for _, b := range s.blockers {
		if b.Fd != fd {
			blockers = append(blockers, b)
		}
	}
	s.blockers = blockers
}

// runPeriodic performs the per-iteration maintenance spec.md §4.8
// describes: expiry sweep, waiter resolution, blocker resolution.
func (s *Server) runPeriodic() {
	now := s.clock.Now()
	s.store.ExpireSweep(now)
	s.resolveWaiters(now)
	s.resolveBlockers(now)
}

// Close releases every resource the server owns.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for fd := range s.conns {
		_ = unix.Close(fd)
	}
	if s.listenFd != 0 {
		_ = unix.Close(s.listenFd)
	}
	if s.poller != nil {
		return s.poller.Close()
	}
	return nil
}
