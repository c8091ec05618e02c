// Package link decodes the Ethernet frame header, the first stage of
// the decoder chain every packet passes through.
package link

import (
	"encoding/binary"

	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

const (
	headerLen     = 14
	etherTypeVLAN = 0x8100
)

// Decoder peels the Ethernet header off a frame and hands the rest of
// the stack the EtherType it found, skipping one level of 802.1Q VLAN
// tagging if present.
type Decoder struct {
	etherTypeID netdec.AttributeID
}

// New registers the "link.ether_type" attribute and returns a decoder
// constructor for the registry's build list.
func New() netdec.DecoderConstructor {
	return func(r *netdec.Registry) (netdec.Decoder, error) {
		d := &Decoder{
			etherTypeID: r.AssignValue("link.ether_type", "Ethernet frame EtherType"),
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

	data := p.Payload(p.Remain())
	if len(data) < headerLen {
		return true
	}

	etherType := binary.BigEndian.Uint16(data[12:14])
	off := headerLen
	if etherType == etherTypeVLAN && len(data) >= off+4 {
		etherType = binary.BigEndian.Uint16(data[off+2 : off+4])
		off += 4
	}

	p.Copy(d.etherTypeID, etherType)
	p.SetPayload(data[off:])
	return true
}
