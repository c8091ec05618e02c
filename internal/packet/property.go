// Package packet implements the concrete per-packet scratch object
// decoders populate as they walk the stack, and that the framework's
// capture layer hands to the decoder chain.
//
// Property implements netdec.Property, the narrow interface the TCP
// session decoder programs against; the wider mutation surface below
// (SetDir, SetPayload, ...) is used by the lower-layer link/network/
// transport decoders that build a Property up from raw bytes.
package packet

import (
	"encoding/binary"
	"net/netip"

	"github.com/swarmdump/swarm/internal/netdec"
)

// Property holds everything the decoder chain knows about one packet.
type Property struct {
	tvSec int64
	dir   netdec.FlowDirection

	data    []byte // full frame, owned by the capture source's read buffer
	payload []byte // unconsumed bytes after the last decoder that trimmed it

	srcIP, dstIP     netip.Addr
	srcPort, dstPort uint16

	ssnLabel []byte
	hash     uint64

	values map[netdec.AttributeID]any
	events []netdec.EventID
}

// New returns a Property for one captured frame at timestamp tvSec.
func New(data []byte, tvSec int64) *Property {
	return &Property{
		tvSec:   tvSec,
		data:    data,
		payload: data,
		values:  make(map[netdec.AttributeID]any, 8),
	}
}

// TVSec implements netdec.Property.
func (p *Property) TVSec() int64 { return p.tvSec }

// Dir implements netdec.Property.
func (p *Property) Dir() netdec.FlowDirection { return p.dir }

// Remain implements netdec.Property.
func (p *Property) Remain() int { return len(p.payload) }

// Payload implements netdec.Property. n is clamped to Remain().
func (p *Property) Payload(n int) []byte {
	if n > len(p.payload) {
		n = len(p.payload)
	}
	return p.payload[:n]
}

// SSNLabel implements netdec.Property.
func (p *Property) SSNLabel() []byte { return p.ssnLabel }

// HashValue implements netdec.Property.
func (p *Property) HashValue() uint64 { return p.hash }

// Uint8 implements netdec.Property.
func (p *Property) Uint8(id netdec.AttributeID) (uint8, bool) {
	v, ok := p.values[id]
	if !ok {
		return 0, false
	}
	u, ok := v.(uint8)
	return u, ok
}

// Uint16 implements netdec.Property.
func (p *Property) Uint16(id netdec.AttributeID) (uint16, bool) {
	v, ok := p.values[id]
	if !ok {
		return 0, false
	}
	u, ok := v.(uint16)
	return u, ok
}

// Uint32 implements netdec.Property.
func (p *Property) Uint32(id netdec.AttributeID) (uint32, bool) {
	v, ok := p.values[id]
	if !ok {
		return 0, false
	}
	u, ok := v.(uint32)
	return u, ok
}

// Set implements netdec.Property — attaches a byte slice value,
// typically a sub-slice of the packet buffer (zero-copy).
func (p *Property) Set(id netdec.AttributeID, data []byte) {
	p.values[id] = data
}

// Copy implements netdec.Property — attaches a copied fixed-size
// value (bool, uint*, a TcpState, ...).
func (p *Property) Copy(id netdec.AttributeID, v any) {
	p.values[id] = v
}

// PushEvent implements netdec.Property.
func (p *Property) PushEvent(id netdec.EventID) {
	p.events = append(p.events, id)
}

// Events drains and returns the events pushed during this packet's
// decode pass. Called by the dispatcher after the chain runs.
func (p *Property) Events() []netdec.EventID {
	ev := p.events
	p.events = nil
	return ev
}

// BytesValue returns a previously Set byte-slice attribute.
func (p *Property) BytesValue(id netdec.AttributeID) ([]byte, bool) {
	v, ok := p.values[id]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Value returns the raw stored value for id, whatever its type —
// used by handlers that don't know the attribute's type in advance.
func (p *Property) Value(id netdec.AttributeID) (any, bool) {
	v, ok := p.values[id]
	return v, ok
}

// SetDir assigns the flow direction. Called once by the transport
// decoder, which compares the two endpoint identities.
func (p *Property) SetDir(d netdec.FlowDirection) { p.dir = d }

// SetEndpoints records the network/transport layer endpoint identity
// and derives the direction-symmetric flow label and hash. Called by
// the transport decoder once both IPs and ports are known.
func (p *Property) SetEndpoints(srcIP, dstIP netip.Addr, srcPort, dstPort uint16) {
	p.srcIP, p.dstIP, p.srcPort, p.dstPort = srcIP, dstIP, srcPort, dstPort
	p.ssnLabel, p.hash = symmetricFlowKey(srcIP, dstIP, srcPort, dstPort)
}

// SetPayload trims the unconsumed payload view as each decoder peels
// off its own header.
func (p *Property) SetPayload(b []byte) { p.payload = b }

// symmetricFlowKey builds a flow identity that resolves to the same
// bytes regardless of which endpoint sent the packet, so that both
// directions of a connection land in the same session-table entry.
// It orders the two (IP, port) endpoints lexicographically before
// concatenating them, then derives a hash over the same ordered bytes.
func symmetricFlowKey(srcIP, dstIP netip.Addr, srcPort, dstPort uint16) ([]byte, uint64) {
	a := endpointBytes(srcIP, srcPort)
	b := endpointBytes(dstIP, dstPort)

	var lo, hi []byte
	if compareBytes(a, b) <= 0 {
		lo, hi = a, b
	} else {
		lo, hi = b, a
	}

	key := make([]byte, 0, len(lo)+len(hi))
	key = append(key, lo...)
	key = append(key, hi...)

	return key, fnv64a(key)
}

func endpointBytes(ip netip.Addr, port uint16) []byte {
	ipBytes := ip.AsSlice()
	buf := make([]byte, len(ipBytes)+2)
	copy(buf, ipBytes)
	binary.BigEndian.PutUint16(buf[len(ipBytes):], port)
	return buf
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

// fnv64a is the FNV-1a 64-bit hash, used unkeyed since the flow label
// itself is not attacker-controlled input in this framework's threat
// model (see spec.md Non-goals: spoofing/evasion detection is out of
// scope for the session decoder that consumes this hash).
func fnv64a(data []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}
