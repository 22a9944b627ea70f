package replication

import (
	"fmt"
	"strings"

	"goredis/internal/resp"
)

// State is one step of the replica-side handshake with its primary
// (spec.md §4.6).
type State int

const (
	WaitingForPong State = iota
	WaitingForPortResponse
	WaitingForCapaResponse
	WaitingForFullresync
	WaitingForFile
	Ready
	RecordOffset
)

// Handshake drives the replica-link state machine for a replica
// connecting out to its primary. The caller owns the socket: Start
// returns the first bytes to send, Handle consumes each reply from the
// primary and returns the next bytes to send (if any).
type Handshake struct {
	State         State
	ListeningPort int
	ReplID        string
	offsetCount   int64
}

// NewHandshake begins a handshake; ListeningPort is advertised via
// REPLCONF listening-port so the primary knows where to reach this
// replica if it ever needs to (spec.md does not require the primary
// dial back, but the wire exchange still happens).
func NewHandshake(listeningPort int) *Handshake {
	return &Handshake{State: WaitingForPong, ListeningPort: listeningPort}
}

// Start returns the initial PING every replica sends on connect.
func (h *Handshake) Start() []byte {
	return resp.EncodeCommand("PING")
}

// Offset reports replication bytes applied since entering
// RecordOffset, for REPLCONF ACK replies.
func (h *Handshake) Offset() int64 {
	return h.offsetCount
}

// AddOffset accounts for one more applied command's byte span. Only
// counts once the handshake has reached RecordOffset, matching the
// original implementation's "increment after the first GETACK".
func (h *Handshake) AddOffset(n int) {
	if h.State == RecordOffset {
		h.offsetCount += int64(n)
	}
}

// Handle processes one reply from the primary and returns the next
// message to send, if any. done is true once the handshake completes
// (state reaches Ready) and normal replica-link command processing
// should take over for subsequent traffic.
func (h *Handshake) Handle(cmd *resp.Command) (reply []byte, done bool, err error) {
	switch strings.ToUpper(cmd.Name) {
	case "PONG":
		if h.State == WaitingForPong {
			h.State = WaitingForPortResponse
			return resp.EncodeCommand("REPLCONF", "listening-port", fmt.Sprintf("%d", h.ListeningPort)), false, nil
		}
	case "OK":
		switch h.State {
		case WaitingForPortResponse:
			h.State = WaitingForCapaResponse
			return resp.EncodeCommand("REPLCONF", "capa", "psync2"), false, nil
		case WaitingForCapaResponse:
			h.State = WaitingForFullresync
			return resp.EncodeCommand("PSYNC", "?", "-1"), false, nil
		}
	case "FULLRESYNC":
		if h.State == WaitingForFullresync && len(cmd.Args) == 2 {
			h.ReplID = cmd.Args[0]
			h.State = WaitingForFile
		}
	case "RDB":
		if h.State == WaitingForFile {
			h.State = Ready
		}
	}
	return nil, h.State == Ready, nil
}

// HandleGetAck answers a REPLCONF GETACK * probe with the number of
// replication bytes applied so far. The first call transitions from
// Ready into RecordOffset; the GETACK command's own byte span is
// accounted for by the caller's subsequent AddOffset call, matching
// the original implementation's "count after replying" order.
func (h *Handshake) HandleGetAck() []byte {
	reply := resp.EncodeCommand("REPLCONF", "ACK", fmt.Sprintf("%d", h.offsetCount))
	if h.State == Ready {
		h.State = RecordOffset
	}
	return reply
}
