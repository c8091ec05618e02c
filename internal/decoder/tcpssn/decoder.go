package tcpssn

import (
	"fmt"

	"github.com/swarmdump/swarm/internal/core"
	"github.com/swarmdump/swarm/internal/netdec"
)

// Timeout is the per-session idle deadline, in seconds, after which a
// session becomes eligible for eviction.
const Timeout = 300

// MaxTTL is the time wheel's bucket count, in seconds: the furthest
// into the future any deadline can be scheduled.
const MaxTTL = 3600

// DefaultCapacity is the table's default entry cap; beyond it, the
// oldest live bucket is force-evicted even if not timed out.
const DefaultCapacity = 65535

// Decoder drives the session table and per-session state machine
// for every packet: it advances the table's logical clock, looks up
// or creates a session, feeds it the packet's TCP fields, and writes
// the derived attributes and events back onto the Property.
type Decoder struct {
	table *Table[*Session]

	seqID   netdec.AttributeID
	ackID   netdec.AttributeID
	flagsID netdec.AttributeID

	establishedEventID netdec.EventID
	dataEventID        netdec.EventID

	segmentID    netdec.AttributeID
	toServerID   netdec.AttributeID
	serverStatID netdec.AttributeID
	clientStatID netdec.AttributeID

	lastTs int64
}

// New returns a decoder constructor. Setup resolves the four TCP
// header attribute IDs the upstream transport decoder assigned —
// missing any of them is the fatal configuration error spec.md §7(a)
// calls for — and registers the session decoder's own events and
// attributes.
func New() netdec.DecoderConstructor {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity is New with an explicit session table capacity,
// for callers tuning resource usage away from the default.
func NewWithCapacity(capacity int) netdec.DecoderConstructor {
	return func(r *netdec.Registry) (netdec.Decoder, error) {
		if capacity <= 0 {
			return nil, fmt.Errorf("tcpssn: session table capacity must be positive, got %d: %w", capacity, core.ErrSessionTableCapacity)
		}
		if _, ok := r.LookupValueID("tcp.header"); !ok {
			return nil, netdec.MissingAttributeError("tcp.header")
		}
		seqID, ok := r.LookupValueID("tcp.seq")
		if !ok {
			return nil, netdec.MissingAttributeError("tcp.seq")
		}
		ackID, ok := r.LookupValueID("tcp.ack")
		if !ok {
			return nil, netdec.MissingAttributeError("tcp.ack")
		}
		flagsID, ok := r.LookupValueID("tcp.flags")
		if !ok {
			return nil, netdec.MissingAttributeError("tcp.flags")
		}

		d := &Decoder{
			table:   NewTable[*Session](MaxTTL, capacity),
			seqID:   seqID,
			ackID:   ackID,
			flagsID: flagsID,

			establishedEventID: r.AssignEvent("tcp_ssn.established", "client endpoint reached ESTABLISHED"),
			dataEventID:        r.AssignEvent("tcp_ssn.data", "in-order payload segment recognized on an established session"),

			segmentID:    r.AssignValue("tcp_ssn.segment", "payload slice of a recognized data segment"),
			toServerID:   r.AssignValue("tcp_ssn.to_server", "true iff this packet travels client to server"),
			serverStatID: r.AssignValue("tcp_ssn.server_stat", "server endpoint TCP state", tcpStateFormatter),
			clientStatID: r.AssignValue("tcp_ssn.client_stat", "client endpoint TCP state", tcpStateFormatter),
		}
		return d, nil
	}
}

// Decode implements netdec.Decoder. It always returns true: a
// rejected or implausible segment simply produces no session-level
// side effects for that packet, and the chain continues regardless.
func (d *Decoder) Decode(p netdec.Property) bool {
	now := p.TVSec()
	d.timeoutSessions(now)

	sess := d.fetchSession(p, now)

	flags, _ := p.Uint8(d.flagsID)
	seq, _ := p.Uint32(d.seqID)
	ack, _ := p.Uint32(d.ackID)
	dataLen := p.Remain()

	prevClientState := sess.Client.State

	if sess.Update(flags, seq, ack, dataLen, p.Dir()) {
		p.Copy(d.toServerID, sess.ToServer(p.Dir()))

		if dataLen > 0 && sess.IsDataAvailable(p.Dir()) {
			p.Set(d.segmentID, p.Payload(dataLen))
			p.PushEvent(d.dataEventID)
		}

		if prevClientState != ESTABLISHED && sess.Client.State == ESTABLISHED {
			p.PushEvent(d.establishedEventID)
		}
	}

	// Unconditionally written, even when Update rejected the packet:
	// the states themselves are simply unchanged in that case.
	p.Copy(d.serverStatID, sess.ServerStat())
	p.Copy(d.clientStatID, sess.ClientStat())

	return true
}

// timeoutSessions advances the table's logical clock by however much
// wall-clock time passed since the last packet, then drains whatever
// fell out of the wheel: destroy it if it has genuinely been idle
// past Timeout, otherwise re-arm it with a fresh deadline.
func (d *Decoder) timeoutSessions(now int64) {
	if d.lastTs > 0 && d.lastTs < now {
		d.table.Prog(uint64(now - d.lastTs))
	}
	d.lastTs = now

	for {
		sess, ok := d.table.Pop()
		if !ok {
			break
		}
		if sess.Ts+Timeout < now {
			continue // destroyed: dropped, not reinserted
		}
		d.table.Put(Timeout, sess.Hash, sess.Key, sess)
	}
}

// fetchSession looks up the session for p's flow label, creating and
// inserting a fresh one on first sight, and always refreshes its
// last-seen timestamp.
func (d *Decoder) fetchSession(p netdec.Property, now int64) *Session {
	hash := p.HashValue()
	key := p.SSNLabel()

	sess, ok := d.table.Get(hash, key)
	if !ok {
		sess = newSession(key, hash)
		d.table.Put(Timeout, hash, key, sess)
	}
	sess.Ts = now
	return sess
}

// Teardown force-expires every live session by advancing the wheel a
// full rotation, then drains and discards them. Called when the
// owning capture source shuts down.
func (d *Decoder) Teardown() {
	d.table.Prog(MaxTTL)
	for {
		if _, ok := d.table.Pop(); !ok {
			break
		}
	}
}
