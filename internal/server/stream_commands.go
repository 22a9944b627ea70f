package server

import (
	"strconv"
	"strings"
	"time"

	"goredis/internal/replication"
	"goredis/internal/resp"
	"goredis/internal/store"
)

func (s *Server) handleXAdd(cmd *resp.Command) []byte {
	if len(cmd.Args) < 2 || len(cmd.Args[2:])%2 != 0 {
		return resp.EncodeError("ERR wrong number of arguments for 'xadd' command")
	}
	key, id, fields := cmd.Args[0], cmd.Args[1], cmd.Args[2:]
	assigned, err := s.store.XAdd(key, id, fields, s.clock.Now())
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeSimpleString(assigned.String())
}

func (s *Server) handleXRange(cmd *resp.Command) []byte {
	if len(cmd.Args) < 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'xrange' command")
	}
	entries, err := s.store.XRange(cmd.Args[0], cmd.Args[1], cmd.Args[2], s.clock.Now())
	if err != nil {
		return resp.EncodeError("ERR " + err.Error())
	}
	return encodeStreamEntries(entries)
}

func (s *Server) handleXRead(c *conn, cmd *resp.Command) {
	args := cmd.Args
	blockMS := -1
	idx := 0

	if len(args) > 0 && strings.ToUpper(args[0]) == "BLOCK" {
		if len(args) < 2 {
			c.queue(resp.EncodeError("ERR wrong number of arguments for 'xread' command"))
			return
		}
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			c.queue(resp.EncodeError("ERR value is not an integer or out of range"))
			return
		}
		blockMS = ms
		idx = 2
	}

	if idx >= len(args) || strings.ToUpper(args[idx]) != "STREAMS" {
		c.queue(resp.EncodeNullArray())
		return
	}
	idx++
	rest := args[idx:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		c.queue(resp.EncodeError("ERR wrong number of arguments for 'xread' command"))
		return
	}
	n := len(rest) / 2
	keys := rest[:n]
	ids := rest[n:]

	now := s.clock.Now()
	parsed := make([]store.ID, n)
	results := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		after, err := store.ParseID(ids[i])
		if err != nil {
			c.queue(resp.EncodeError("ERR Invalid stream ID specified as stream command argument"))
			return
		}
		parsed[i] = after
		entries := s.store.XReadAfter(keys[i], after, now)
		if len(entries) > 0 {
			results = append(results, encodeStreamReadResult(keys[i], entries))
		}
	}

	if len(results) > 0 {
		c.queue(resp.EncodeArray(results))
		return
	}
	if blockMS < 0 {
		c.queue(resp.EncodeNullArray())
		return
	}

	b := &replication.Blocker{Fd: c.fd, Key: keys[0], AfterMS: parsed[0].MS, AfterSeq: parsed[0].Seq}
	if blockMS == 0 {
		b.NoTimeout = true
	} else {
		b.Deadline = now.Add(time.Duration(blockMS) * time.Millisecond)
	}
	s.blockers = append(s.blockers, b)
}

func idFromBlocker(b *replication.Blocker) store.ID {
	return store.ID{MS: b.AfterMS, Seq: b.AfterSeq}
}

func encodeStreamReadResult(key string, entries []store.Entry) []byte {
	return resp.EncodeArray([][]byte{
		resp.EncodeBulkString(key),
		encodeStreamEntriesInner(entries),
	})
}

func encodeStreamEntries(entries []store.Entry) []byte {
	return encodeStreamEntriesInner(entries)
}

func encodeStreamEntriesInner(entries []store.Entry) []byte {
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		fieldVals := make([][]byte, 0, len(e.Fields))
		for _, f := range e.Fields {
			fieldVals = append(fieldVals, resp.EncodeBulkString(f))
		}
		out = append(out, resp.EncodeArray([][]byte{
			resp.EncodeBulkString(e.ID.String()),
			resp.EncodeArray(fieldVals),
		}))
	}
	return resp.EncodeArray(out)
}
