package tcpssn

import (
	"fmt"

	"github.com/swarmdump/swarm/internal/netdec"
)

// TcpState is one of the seven states a connection endpoint moves
// through. The zero value is CLOSED, matching both endpoints' initial
// state.
type TcpState int

const (
	CLOSED TcpState = iota
	LISTEN
	SYN_SENT
	SYN_RCVD
	ESTABLISHED
	CLOSING
	TIME_WAIT
)

var tcpStateNames = [...]string{
	CLOSED:      "CLOSED",
	LISTEN:      "LISTEN",
	SYN_SENT:    "SYN_SENT",
	SYN_RCVD:    "SYN_RCVD",
	ESTABLISHED: "ESTABLISHED",
	CLOSING:     "CLOSING",
	TIME_WAIT:   "TIME_WAIT",
}

// String renders the symbolic name used by the registry formatter and
// by ParseTcpState's inverse.
func (s TcpState) String() string {
	if int(s) < 0 || int(s) >= len(tcpStateNames) {
		return "UNKNOWN"
	}
	return tcpStateNames[s]
}

// ParseTcpState parses a TcpState's symbolic name, the inverse of
// String, so that parse(repr(s)) == s round-trips for every state.
func ParseTcpState(s string) (TcpState, error) {
	for i, name := range tcpStateNames {
		if name == s {
			return TcpState(i), nil
		}
	}
	return 0, fmt.Errorf("tcpssn: unknown TcpState %q", s)
}

// tcpStateFormatter renders a netdec value whose underlying type is
// TcpState using its symbolic name, for tcp_ssn.server_stat and
// tcp_ssn.client_stat.
func tcpStateFormatter(v any) string {
	s, ok := v.(TcpState)
	if !ok {
		return fmt.Sprint(v)
	}
	return s.String()
}

// TCP flag bits significant to the state machine. Any other bit in a
// packet's flags byte is expected to already be masked off upstream.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagACK uint8 = 0x10

	flagMask = FlagFIN | FlagSYN | FlagRST | FlagACK
)

// Endpoint is one half of a session: what that side has sent, and
// what it has acknowledged of the peer.
type Endpoint struct {
	BaseSeq uint32
	SentLen uint64
	NextAck uint32

	AvailSeq bool
	AvailAck bool

	State TcpState

	RecvFin    bool
	RecvFinAck bool
	SentFinAck bool

	// Updated is true iff the last send/recv transitioned State. The
	// decoder uses it, through IsDataAvailable, to gate DATA event
	// emission.
	Updated bool
}

// checkSeq is the sequence-number plausibility gate: a new segment is
// accepted iff its sequence number does not fall implausibly far
// beyond what this endpoint has already sent, with wrap handled by
// RFC 1982-style signed distance comparison rather than the source's
// plain unsigned compare (see the module's design notes on the
// flagged 32-bit wrap limitation).
func (e *Endpoint) checkSeq(seq uint32) bool {
	if !e.AvailSeq {
		return true
	}
	threshold := e.BaseSeq + uint32(e.SentLen) + 1
	return seqLE(seq, threshold)
}

// seqLE reports whether a precedes or equals b in the circular
// sequence-number space, using the sign of their 32-bit difference —
// the RFC 1982 serial-number comparison.
func seqLE(a, b uint32) bool {
	return int32(a-b) <= 0
}

// send advances this endpoint's state machine for a segment it sent,
// per the sender-side transition table.
func (e *Endpoint) send(flags uint8, seq, _ uint32, dataLen int) {
	masked := flags & flagMask
	prev := e.State

	switch e.State {
	case CLOSED:
		if masked == FlagSYN {
			e.State = SYN_SENT
			e.BaseSeq = seq
			e.AvailSeq = true
		}
	case LISTEN:
		if masked == FlagSYN|FlagACK {
			e.State = SYN_RCVD
			e.BaseSeq = seq
			e.AvailSeq = true
		}
	case SYN_SENT:
		if masked == FlagACK {
			e.State = ESTABLISHED
		}
	case SYN_RCVD:
		if masked&FlagFIN != 0 {
			e.State = CLOSING
		} else {
			e.State = ESTABLISHED
		}
	case ESTABLISHED:
		if masked&FlagFIN != 0 {
			e.State = CLOSING
		} else if e.RecvFin && masked&FlagACK != 0 {
			e.SentFinAck = true
		}
	case CLOSING:
		if e.RecvFin && masked&FlagACK != 0 {
			e.SentFinAck = true
		}
	case TIME_WAIT:
		// no transitions out of TIME_WAIT
	}

	e.Updated = e.State != prev
	if e.State == ESTABLISHED {
		e.SentLen += uint64(dataLen)
	}
}

// recv advances this endpoint's state machine for a segment the peer
// sent to it, per the receiver-side transition table.
func (e *Endpoint) recv(flags uint8, seq, _ uint32, dataLen int) {
	masked := flags & flagMask
	prev := e.State

	switch e.State {
	case CLOSED:
		if masked == FlagSYN {
			e.State = LISTEN
			e.NextAck = seq + 1
			e.AvailAck = true
		}
	case SYN_SENT:
		if masked == FlagSYN|FlagACK {
			e.NextAck = seq + 1
			e.AvailAck = true
		}
	case SYN_RCVD:
		// No transition here: a receiver that sent SYN|ACK completes
		// its own view of the handshake through its next send, not
		// through the peer's handshake-completing ACK.
	case ESTABLISHED:
		if masked&FlagFIN != 0 {
			e.RecvFin = true
		}
	case CLOSING:
		if masked&FlagFIN != 0 {
			e.RecvFin = true
		}
		if masked&FlagACK != 0 {
			e.RecvFinAck = true
		}
		if e.RecvFin && e.RecvFinAck && e.SentFinAck {
			e.State = TIME_WAIT
		}
	}

	e.Updated = e.State != prev
	if e.State == ESTABLISHED || e.State == SYN_RCVD {
		e.NextAck += uint32(dataLen)
	}
}

// Session is one bidirectional flow's record: two endpoint state
// machines plus the metadata the LRU table and decoder need.
type Session struct {
	Key  []byte
	Hash uint64
	Ts   int64

	Client Endpoint
	Server Endpoint

	// Dir is the direction of traffic from client to server. NIL
	// until the first observed SYN fixes it, and never changes after.
	Dir netdec.FlowDirection
}

// newSession returns a fresh session owning a copy of key.
func newSession(key []byte, hash uint64) *Session {
	k := make([]byte, len(key))
	copy(k, key)
	return &Session{Key: k, Hash: hash}
}

// ToServer reports whether a packet observed travelling in direction
// d is headed client to server.
func (s *Session) ToServer(d netdec.FlowDirection) bool {
	return s.Dir != netdec.DirNIL && d == s.Dir
}

// ToClient reports whether a packet observed travelling in direction
// d is headed server to client.
func (s *Session) ToClient(d netdec.FlowDirection) bool {
	return s.Dir != netdec.DirNIL && d != s.Dir
}

// ServerStat returns the server endpoint's current state.
func (s *Session) ServerStat() TcpState { return s.Server.State }

// ClientStat returns the client endpoint's current state.
func (s *Session) ClientStat() TcpState { return s.Client.State }

// Update processes one packet's flag/seq/ack/len tuple against the
// session, choosing the sender/receiver endpoint pair from the
// observed direction. It returns false — leaving both endpoints
// unmutated — for a pre-SYN packet on a fresh session or a segment
// that fails sequence plausibility.
func (s *Session) Update(flags uint8, seq, ack uint32, dataLen int, dir netdec.FlowDirection) bool {
	if s.Dir == netdec.DirNIL {
		if flags&flagMask != FlagSYN {
			return false
		}
		s.Dir = dir
		s.Client.send(flags, seq, ack, dataLen)
		s.Server.recv(flags, seq, ack, dataLen)
		return true
	}

	var sender, recver *Endpoint
	if s.ToServer(dir) {
		sender, recver = &s.Client, &s.Server
	} else {
		sender, recver = &s.Server, &s.Client
	}

	if !sender.checkSeq(seq) {
		return false
	}

	sender.send(flags, seq, ack, dataLen)
	recver.recv(flags, seq, ack, dataLen)
	return true
}

// IsDataAvailable is the gate for emitting a DATA event: true iff the
// sender endpoint for direction dir did not just transition state
// (so the handshake-completing ACK is excluded) and has reached
// ESTABLISHED.
func (s *Session) IsDataAvailable(dir netdec.FlowDirection) bool {
	sender := &s.Server
	if s.ToServer(dir) {
		sender = &s.Client
	}
	return !sender.Updated && sender.State == ESTABLISHED
}
