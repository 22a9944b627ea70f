package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"goredis/internal/rdb"
	"goredis/internal/replication"
	"goredis/internal/resp"
)

func (s *Server) handleReplconf(c *conn, cmd *resp.Command) []byte {
	if len(cmd.Args) == 0 {
		return resp.EncodeSimpleString("OK")
	}
	switch strings.ToUpper(cmd.Args[0]) {
	case "LISTENING-PORT":
		if len(cmd.Args) > 1 {
			if port, err := strconv.Atoi(cmd.Args[1]); err == nil {
				c.listeningPort = port
			}
		}
		return resp.EncodeSimpleString("OK")
	case "ACK":
		if len(cmd.Args) > 1 {
			if offset, err := strconv.ParseInt(cmd.Args[1], 10, 64); err == nil {
				s.replicas.Ack(c.fd, offset)
			}
		}
		return nil
	default:
		return resp.EncodeSimpleString("OK")
	}
}

func (s *Server) handlePsync(c *conn, cmd *resp.Command) []byte {
	c.kind = kindReplica
	c.psynced = true
	s.replicas.Add(c.fd, c.addr, c.listeningPort, s.replOffset)

	header := resp.EncodeSimpleString(fmt.Sprintf("FULLRESYNC %s %d", s.replID, s.replOffset))
	file := resp.EncodeFile(s.rawRDB)
	return append(header, file...)
}

func (s *Server) handleWait(c *conn, cmd *resp.Command) {
	minReplicas, err1 := strconv.Atoi(valueOr(cmd.Args, 0, "0"))
	timeoutMS, err2 := strconv.Atoi(valueOr(cmd.Args, 1, "0"))
	if err1 != nil || err2 != nil {
		c.queue(resp.EncodeError("ERR value is not an integer or out of range"))
		return
	}

	// WAIT unconditionally prompts every replica for a fresh ACK before
	// the waiter is evaluated, even if it turns out to already be
	// satisfiable without waiting.
	getack := resp.EncodeCommand("REPLCONF", "GETACK", "*")
	for _, rep := range s.replicas.All() {
		if rc, ok := s.conns[rep.Fd]; ok {
			rc.queue(getack)
		}
	}

	acked := s.replicas.CountCaughtUp()
	if acked >= minReplicas || minReplicas == 0 {
		c.queue(resp.EncodeInteger(int64(acked)))
		return
	}

	s.waiters = append(s.waiters, &replication.Waiter{
		Fd:       c.fd,
		MinCount: minReplicas,
		Deadline: s.clock.Now().Add(time.Duration(timeoutMS) * time.Millisecond),
	})
}

func valueOr(args []string, idx int, fallback string) string {
	if idx < len(args) {
		return args[idx]
	}
	return fallback
}

func (s *Server) resolveWaiters(now time.Time) {
	if len(s.waiters) == 0 {
		return
	}
	remaining := s.waiters[:0]
	for _, w := range s.waiters {
		acked := s.replicas.CountCaughtUp()
		if acked >= w.MinCount || now.After(w.Deadline) {
			if c, ok := s.conns[w.Fd]; ok {
				c.queue(resp.EncodeInteger(int64(acked)))
				s.flush(c)
			}
			continue
		}
		remaining = append(remaining, w)
	}
	s.waiters = remaining
}

func (s *Server) resolveBlockers(now time.Time) {
	if len(s.blockers) == 0 {
		return
	}
	remaining := s.blockers[:0]
	for _, b := range s.blockers {
		after := idFromBlocker(b)
		entries := s.store.XReadAfter(b.Key, after, now)
		if len(entries) > 0 {
			if c, ok := s.conns[b.Fd]; ok {
				c.queue(resp.EncodeArray([][]byte{encodeStreamReadResult(b.Key, entries)}))
				s.flush(c)
			}
			continue
		}
		if !b.NoTimeout && now.After(b.Deadline) {
			if c, ok := s.conns[b.Fd]; ok {
				c.queue(resp.EncodeNullArray())
				s.flush(c)
			}
			continue
		}
		remaining = append(remaining, b)
	}
	s.blockers = remaining
}

// drainMasterLink processes traffic arriving on the outbound
// connection to this replica's primary: the handshake exchange, the
// RDB transfer, then an indefinite stream of propagated write
// commands and REPLCONF GETACK probes (spec.md §4.6).
func (s *Server) drainMasterLink(c *conn) error {
	for {
		if len(c.readBuf) == 0 {
			return nil
		}
		cmd, n, err := resp.Decode(c.readBuf)
		if err == resp.ErrIncomplete {
			return nil
		}
		if err != nil {
			c.readBuf = nil
			return err
		}
		c.readBuf = c.readBuf[n:]

		if cmd.Name == "RDB" {
			s.installSnapshot(cmd.RDBPayload)
			if _, _, herr := s.handshake.Handle(cmd); herr != nil {
				return herr
			}
			continue
		}

		if s.handshake.State != replication.Ready && s.handshake.State != replication.RecordOffset {
			reply, _, herr := s.handshake.Handle(cmd)
			if herr != nil {
				return herr
			}
			if reply != nil {
				c.queue(reply)
			}
			continue
		}

		switch strings.ToUpper(cmd.Name) {
		case "SET":
			s.handleSet(cmd)
		case "REPLCONF":
			if len(cmd.Args) > 0 && strings.ToUpper(cmd.Args[0]) == "GETACK" {
				c.queue(s.handshake.HandleGetAck())
			}
		case "PING":
			// silent: a replica never replies to a keepalive ping from
			// its primary.
		}
		s.handshake.AddOffset(n)
	}
}

func (s *Server) installSnapshot(payload []byte) {
	records, err := rdb.Decode(payload)
	if err != nil {
		s.log.WithError(err).Warn("failed to decode rdb snapshot from master")
		return
	}
	for _, rec := range records {
		s.store.SetString(rec.Key, rec.Value, rec.ExpiresAt)
	}
	s.log.WithField("keys", len(records)).Info("installed snapshot from master")
}
