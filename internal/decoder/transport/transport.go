// Package transport decodes the TCP/UDP header, and is the decoder
// the TCP session decoder's setup phase depends on: it assigns the
// "tcp.header", "tcp.seq", "tcp.ack" and "tcp.flags" attribute IDs
// spec.md §4.3 names.
package transport

import (
	"encoding/binary"
	"net/netip"

	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

const (
	protoTCP = 6
	protoUDP = 17

	udpHeaderLen    = 8
	tcpHeaderMinLen = 20

	// Only these bits are meaningful to the session state machine;
	// everything else (URG, ECE, CWR, NS) is masked off on the way in.
	tcpFlagMask = 0x01 | 0x02 | 0x04 | 0x10 // FIN | SYN | RST | ACK
)

// Decoder decodes the transport header and, for TCP, registers the
// four attributes the session decoder depends on.
type Decoder struct {
	srcIPID, dstIPID netdec.AttributeID
	protocolID       netdec.AttributeID

	srcPortID, dstPortID netdec.AttributeID
	headerID             netdec.AttributeID
	seqID, ackID         netdec.AttributeID
	flagsID              netdec.AttributeID
}

// New returns a decoder constructor resolving the IP decoder's
// attributes and registering the transport-layer ones.
func New() netdec.DecoderConstructor {
	return func(r *netdec.Registry) (netdec.Decoder, error) {
		protocolID, ok := r.LookupValueID("ip.protocol")
		if !ok {
			return nil, netdec.MissingAttributeError("ip.protocol")
		}
		srcIPID, ok := r.LookupValueID("ip.src")
		if !ok {
			return nil, netdec.MissingAttributeError("ip.src")
		}
		dstIPID, ok := r.LookupValueID("ip.dst")
		if !ok {
			return nil, netdec.MissingAttributeError("ip.dst")
		}

		d := &Decoder{
			protocolID: protocolID,
			srcIPID:    srcIPID,
			dstIPID:    dstIPID,

			srcPortID: r.AssignValue("transport.src_port", "source port"),
			dstPortID: r.AssignValue("transport.dst_port", "destination port"),
			headerID:  r.AssignValue("tcp.header", "raw TCP header bytes"),
			seqID:     r.AssignValue("tcp.seq", "TCP sequence number"),
			ackID:     r.AssignValue("tcp.ack", "TCP acknowledgment number"),
			flagsID:   r.AssignValue("tcp.flags", "TCP flags (FIN|SYN|RST|ACK masked)"),
		}
		return d, nil
	}
}

// Decode implements netdec.Decoder.
func (d *Decoder) Decode(pr netdec.Property) bool {
	p, ok := pr.(*packet.Property)
	if !ok {
		return true
	}

	proto, ok := p.Uint8(d.protocolID)
	if !ok {
		return true
	}

	data := p.Payload(p.Remain())

	switch proto {
	case protoTCP:
		return d.decodeTCP(p, data)
	case protoUDP:
		return d.decodeUDP(p, data)
	default:
		return true
	}
}

func (d *Decoder) decodeUDP(p *packet.Property, data []byte) bool {
	if len(data) < udpHeaderLen {
		return true
	}
	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])

	p.Copy(d.srcPortID, srcPort)
	p.Copy(d.dstPortID, dstPort)
	d.setDirAndEndpoints(p, srcPort, dstPort)
	p.SetPayload(data[udpHeaderLen:])
	return true
}

func (d *Decoder) decodeTCP(p *packet.Property, data []byte) bool {
	if len(data) < tcpHeaderMinLen {
		return true
	}
	dataOffset := int(data[12]>>4) * 4
	if dataOffset < tcpHeaderMinLen || len(data) < dataOffset {
		return true
	}

	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	ack := binary.BigEndian.Uint32(data[8:12])
	flags := data[13] & tcpFlagMask

	p.Copy(d.srcPortID, srcPort)
	p.Copy(d.dstPortID, dstPort)
	p.Set(d.headerID, data[:dataOffset])
	p.Copy(d.seqID, seq)
	p.Copy(d.ackID, ack)
	p.Copy(d.flagsID, flags)

	d.setDirAndEndpoints(p, srcPort, dstPort)
	p.SetPayload(data[dataOffset:])
	return true
}

// setDirAndEndpoints derives the flow's direction and symmetric label
// from the byte comparison of the two endpoint identities, per
// spec.md §3: "Assigned by upstream per packet from the byte
// comparison of endpoint identities."
func (d *Decoder) setDirAndEndpoints(p *packet.Property, srcPort, dstPort uint16) {
	srcIPv, _ := p.Value(d.srcIPID)
	dstIPv, _ := p.Value(d.dstIPID)
	srcIP, _ := srcIPv.(netip.Addr)
	dstIP, _ := dstIPv.(netip.Addr)

	p.SetEndpoints(srcIP, dstIP, srcPort, dstPort)

	if lessEndpoint(srcIP, srcPort, dstIP, dstPort) {
		p.SetDir(netdec.DirL2R)
	} else {
		p.SetDir(netdec.DirR2L)
	}
}

// lessEndpoint orders two endpoint identities the same way
// packet.Property does internally, so the direction this decoder
// assigns agrees with which endpoint the session label treats as
// the flow's canonical "left" side.
func lessEndpoint(aIP netip.Addr, aPort uint16, bIP netip.Addr, bPort uint16) bool {
	if c := aIP.Compare(bIP); c != 0 {
		return c < 0
	}
	return aPort < bPort
}
