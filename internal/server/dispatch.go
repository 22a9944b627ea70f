package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"goredis/internal/resp"
)

// dispatchClientCommand handles one command from a normal client
// socket, or from a replica socket after PSYNC (which, post-handshake,
// only ever sends REPLCONF ACK). It writes any reply into c.writeBuf
// and fans write commands out to replicas (spec.md §4.4-§4.5).
func (s *Server) dispatchClientCommand(c *conn, cmd *resp.Command) error {
	name := strings.ToUpper(cmd.Name)
	var out []byte

	switch name {
	case "PING":
		out = resp.EncodeSimpleString("PONG")
	case "ECHO":
		out = resp.EncodeBulkString(strings.Join(cmd.Args, " "))
	case "SET":
		out = s.handleSet(cmd)
	case "GET":
		out = s.handleGet(cmd)
	case "INFO":
		out = s.handleInfo(cmd)
	case "CONFIG":
		out = s.handleConfig(cmd)
	case "KEYS":
		out = s.handleKeys(cmd)
	case "TYPE":
		out = s.handleType(cmd)
	case "REPLCONF":
		out = s.handleReplconf(c, cmd)
	case "PSYNC":
		out = s.handlePsync(c, cmd)
	case "WAIT":
		s.handleWait(c, cmd)
	case "XADD":
		out = s.handleXAdd(cmd)
	case "XRANGE":
		out = s.handleXRange(cmd)
	case "XREAD":
		s.handleXRead(c, cmd)
	case "OK":
		// Absorbed: a stray OK from a handshake reply that reached the
		// client dispatcher rather than the replica-link one.
	default:
		out = resp.EncodeBulkString("Unknown command")
	}

	if out != nil {
		c.queue(out)
	}
	s.replicateIfNeeded(name, cmd)
	return nil
}

func (s *Server) replicateIfNeeded(name string, cmd *resp.Command) {
	if name != "SET" {
		return
	}
	for _, rep := range s.replicas.All() {
		if rc, ok := s.conns[rep.Fd]; ok {
			rc.queue(cmd.Raw)
		}
		rep.AssignedOffset += int64(len(cmd.Raw))
	}
	s.replOffset += int64(len(cmd.Raw))
}

func (s *Server) handleSet(cmd *resp.Command) []byte {
	if len(cmd.Args) < 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'set' command")
	}
	key, value := cmd.Args[0], cmd.Args[1]
	var expiresAt *time.Time
	if len(cmd.Args) >= 4 && strings.ToUpper(cmd.Args[2]) == "PX" {
		ms, err := strconv.ParseInt(cmd.Args[3], 10, 64)
		if err != nil {
			return resp.EncodeError("ERR value is not an integer or out of range")
		}
		t := s.clock.Now().Add(time.Duration(ms) * time.Millisecond)
		expiresAt = &t
	}
	s.store.SetString(key, []byte(value), expiresAt)
	return resp.EncodeSimpleString("OK")
}

func (s *Server) handleGet(cmd *resp.Command) []byte {
	if len(cmd.Args) < 1 {
		return resp.EncodeError("ERR wrong number of arguments for 'get' command")
	}
	value, ok := s.store.GetString(cmd.Args[0], s.clock.Now())
	if !ok {
		return resp.EncodeNullBulk()
	}
	return resp.EncodeBulkBytes(value)
}

func (s *Server) handleInfo(cmd *resp.Command) []byte {
	if len(cmd.Args) > 0 && strings.ToUpper(cmd.Args[0]) == "REPLICATION" {
		role := "master"
		if s.IsReplica() {
			role = "slave"
		}
		lines := []string{fmt.Sprintf("role:%s", role)}
		if !s.IsReplica() {
			lines = append(lines,
				fmt.Sprintf("master_replid:%s", s.replID),
				fmt.Sprintf("master_repl_offset:%d", s.replOffset),
			)
		}
		return resp.EncodeBulkString(strings.Join(lines, "\n"))
	}
	return resp.EncodeBulkString("redis_version:0.0.1")
}

func (s *Server) handleConfig(cmd *resp.Command) []byte {
	if len(cmd.Args) < 2 || strings.ToUpper(cmd.Args[0]) != "GET" {
		return resp.EncodeNullArray()
	}
	switch strings.ToUpper(cmd.Args[1]) {
	case "DIR":
		return resp.EncodeStringArray([]string{"dir", s.cfg.Dir})
	case "DBFILENAME":
		return resp.EncodeStringArray([]string{"dbfilename", s.cfg.DBFilename})
	default:
		return resp.EncodeNullArray()
	}
}

func (s *Server) handleKeys(cmd *resp.Command) []byte {
	if len(cmd.Args) < 1 || cmd.Args[0] != "*" {
		return resp.EncodeArray(nil)
	}
	return resp.EncodeStringArray(s.store.Keys(s.clock.Now()))
}

func (s *Server) handleType(cmd *resp.Command) []byte {
	if len(cmd.Args) < 1 {
		return resp.EncodeBulkString("none")
	}
	t, ok := s.store.Type(cmd.Args[0], s.clock.Now())
	if !ok {
		return resp.EncodeBulkString("none")
	}
	return resp.EncodeBulkString(t.String())
}
