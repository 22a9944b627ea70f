package server

import "goredis/internal/resp"

// connKind distinguishes the three roles a socket can play in this
// process (spec.md §4.1): a normal client, a replica that has
// completed PSYNC (writes fan out to it, its traffic back is only
// REPLCONF ACK), and the outbound link to this process's own primary
// when running as a replica.
type connKind int

const (
	kindClient connKind = iota
	kindReplica
	kindMasterLink
)

// conn is one socket's read/write buffering and per-connection state.
// The server owns every conn from its single goroutine; there is no
// locking (spec.md §5).
type conn struct {
	fd   int
	addr string
	kind connKind

	readBuf  []byte
	writeBuf []byte

	// replica bookkeeping, valid when kind == kindReplica
	listeningPort int
	psynced       bool

	pendingRDBBytes int // remaining bytes of an in-flight RDB transfer being read (master-link side)
}

func (c *conn) queue(data []byte) {
	c.writeBuf = append(c.writeBuf, data...)
}

// drainCommands decodes every complete command currently buffered,
// invoking fn for each with the exact byte span it consumed. It stops
// at the first incomplete frame, leaving the remainder in readBuf.
func (c *conn) drainCommands(fn func(cmd *resp.Command) error) error {
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
		if err := fn(cmd); err != nil {
			return err
		}
	}
}
