// Package network decodes the IPv4/IPv6 header, producing the
// endpoint addresses the transport decoder and the TCP session
// decoder key their flow identity on.
package network

import (
	"net/netip"

	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

const (
	etherTypeIP  = 0x0800
	etherTypeIP6 = 0x86DD
)

// Decoder peels the IPv4/IPv6 header off the payload the link decoder
// left, and records the protocol number for the transport decoder.
type Decoder struct {
	etherTypeID netdec.AttributeID
	protocolID  netdec.AttributeID
	srcIPID     netdec.AttributeID
	dstIPID     netdec.AttributeID
}

// New returns a decoder constructor that resolves the link decoder's
// EtherType attribute and registers its own ip.protocol/ip.src/ip.dst.
func New() netdec.DecoderConstructor {
	return func(r *netdec.Registry) (netdec.Decoder, error) {
		etherTypeID, ok := r.LookupValueID("link.ether_type")
		if !ok {
			return nil, netdec.MissingAttributeError("link.ether_type")
		}
		d := &Decoder{
			etherTypeID: etherTypeID,
			protocolID:  r.AssignValue("ip.protocol", "IPv4/IPv6 next-header protocol number"),
			srcIPID:     r.AssignValue("ip.src", "source IP address"),
			dstIPID:     r.AssignValue("ip.dst", "destination IP address"),
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

	etherType, ok := p.Uint16(d.etherTypeID)
	if !ok {
		return true
	}

	data := p.Payload(p.Remain())

	switch etherType {
	case etherTypeIP:
		return d.decodeV4(p, data)
	case etherTypeIP6:
		return d.decodeV6(p, data)
	default:
		return true
	}
}

func (d *Decoder) decodeV4(p *packet.Property, data []byte) bool {
	if len(data) < 20 {
		return true
	}
	ihl := int(data[0]&0x0F) * 4
	if ihl < 20 || len(data) < ihl {
		return true
	}
	proto := data[9]
	srcIP, _ := netip.AddrFromSlice(data[12:16])
	dstIP, _ := netip.AddrFromSlice(data[16:20])

	p.Copy(d.protocolID, proto)
	p.Copy(d.srcIPID, srcIP)
	p.Copy(d.dstIPID, dstIP)
	p.SetPayload(data[ihl:])
	return true
}

func (d *Decoder) decodeV6(p *packet.Property, data []byte) bool {
	if len(data) < 40 {
		return true
	}
	proto := data[6]
	srcIP, _ := netip.AddrFromSlice(data[8:24])
	dstIP, _ := netip.AddrFromSlice(data[24:40])

	p.Copy(d.protocolID, proto)
	p.Copy(d.srcIPID, srcIP)
	p.Copy(d.dstIPID, dstIP)
	p.SetPayload(data[40:])
	return true
}
