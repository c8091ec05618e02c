package transport

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

func newDecoder(t *testing.T) (*Decoder, *netdec.Registry) {
	r := netdec.NewRegistry()
	r.AssignValue("ip.protocol", "protocol")
	r.AssignValue("ip.src", "source address")
	r.AssignValue("ip.dst", "destination address")

	d, err := New()(r)
	require.NoError(t, err)
	dec, ok := d.(*Decoder)
	require.True(t, ok)
	return dec, r
}

func newIPProperty(dec *Decoder, proto uint8, srcIP, dstIP netip.Addr, transportData []byte) *packet.Property {
	p := packet.New(transportData, 0)
	p.Copy(dec.protocolID, proto)
	p.Copy(dec.srcIPID, srcIP)
	p.Copy(dec.dstIPID, dstIP)
	return p
}

func TestNewFailsWithoutIPDecoder(t *testing.T) {
	r := netdec.NewRegistry()
	_, err := New()(r)
	assert.Error(t, err)
}

func TestDecodeTCPExtractsFieldsAndMasksFlags(t *testing.T) {
	dec, _ := newDecoder(t)

	data := make([]byte, 20+2)
	binary.BigEndian.PutUint16(data[0:2], 1234)
	binary.BigEndian.PutUint16(data[2:4], 80)
	binary.BigEndian.PutUint32(data[4:8], 1000)
	binary.BigEndian.PutUint32(data[8:12], 2000)
	data[12] = 5 << 4 // data offset 20
	data[13] = 0xFF   // every flag bit set
	payload := []byte{0xDE, 0xAD}
	copy(data[20:], payload)

	srcIP := netip.MustParseAddr("10.0.0.1")
	dstIP := netip.MustParseAddr("10.0.0.2")
	p := newIPProperty(dec, protoTCP, srcIP, dstIP, data)

	ok := dec.Decode(p)
	assert.True(t, ok)

	srcPort, _ := p.Uint16(dec.srcPortID)
	assert.Equal(t, uint16(1234), srcPort)
	dstPort, _ := p.Uint16(dec.dstPortID)
	assert.Equal(t, uint16(80), dstPort)

	seq, _ := p.Uint32(dec.seqID)
	assert.Equal(t, uint32(1000), seq)
	ack, _ := p.Uint32(dec.ackID)
	assert.Equal(t, uint32(2000), ack)

	flags, _ := p.Value(dec.flagsID)
	assert.Equal(t, uint8(0x01|0x02|0x04|0x10), flags, "URG/ECE/CWR/NS must be masked off")

	header, _ := p.BytesValue(dec.headerID)
	assert.Equal(t, data[:20], header)

	assert.Equal(t, payload, p.Payload(p.Remain()))
}

func TestDecodeUDPExtractsPortsOnly(t *testing.T) {
	dec, _ := newDecoder(t)

	data := make([]byte, 8+3)
	binary.BigEndian.PutUint16(data[0:2], 5353)
	binary.BigEndian.PutUint16(data[2:4], 53)
	payload := []byte{1, 2, 3}
	copy(data[8:], payload)

	p := newIPProperty(dec, protoUDP, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), data)

	ok := dec.Decode(p)
	assert.True(t, ok)

	srcPort, _ := p.Uint16(dec.srcPortID)
	assert.Equal(t, uint16(5353), srcPort)
	_, found := p.BytesValue(dec.headerID)
	assert.False(t, found, "UDP has no tcp.header attribute")
	assert.Equal(t, payload, p.Payload(p.Remain()))
}

func TestDecodeAssignsSymmetricDirection(t *testing.T) {
	dec, _ := newDecoder(t)

	forward := make([]byte, 20)
	binary.BigEndian.PutUint16(forward[0:2], 1234)
	binary.BigEndian.PutUint16(forward[2:4], 80)
	forward[12] = 5 << 4
	p1 := newIPProperty(dec, protoTCP, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), forward)
	dec.Decode(p1)

	reverse := make([]byte, 20)
	binary.BigEndian.PutUint16(reverse[0:2], 80)
	binary.BigEndian.PutUint16(reverse[2:4], 1234)
	reverse[12] = 5 << 4
	p2 := newIPProperty(dec, protoTCP, netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.1"), reverse)
	dec.Decode(p2)

	assert.Equal(t, p1.HashValue(), p2.HashValue())
	assert.NotEqual(t, p1.Dir(), p2.Dir())
}

func TestDecodeShortTCPHeaderIsSkipped(t *testing.T) {
	dec, _ := newDecoder(t)
	p := newIPProperty(dec, protoTCP, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), []byte{1, 2, 3})

	ok := dec.Decode(p)
	assert.True(t, ok)
	_, found := p.Uint16(dec.srcPortID)
	assert.False(t, found)
}

func TestDecodeShortUDPHeaderIsSkipped(t *testing.T) {
	dec, _ := newDecoder(t)
	p := newIPProperty(dec, protoUDP, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), []byte{1, 2})

	ok := dec.Decode(p)
	assert.True(t, ok)
	_, found := p.Uint16(dec.srcPortID)
	assert.False(t, found)
}

func TestDecodeUnknownProtocolIsSkipped(t *testing.T) {
	dec, _ := newDecoder(t)
	p := newIPProperty(dec, 1 /* ICMP */, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), []byte{1, 2, 3, 4})

	ok := dec.Decode(p)
	assert.True(t, ok)
}

func TestDecodeIgnoresNonPacketProperty(t *testing.T) {
	dec, _ := newDecoder(t)
	ok := dec.Decode(fakeProperty{})
	assert.True(t, ok)
}

type fakeProperty struct{ netdec.Property }

func TestLessEndpointOrdersByIPThenPort(t *testing.T) {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	assert.True(t, lessEndpoint(a, 9999, b, 1))
	assert.True(t, lessEndpoint(a, 1, a, 2))
	assert.False(t, lessEndpoint(a, 2, a, 1))
}
