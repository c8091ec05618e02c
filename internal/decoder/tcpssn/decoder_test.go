package tcpssn

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdump/swarm/internal/core"
	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

func TestNewWithCapacityRejectsNonPositiveCapacity(t *testing.T) {
	r := netdec.NewRegistry()
	r.AssignValue("tcp.header", "raw TCP header bytes")
	r.AssignValue("tcp.seq", "TCP sequence number")
	r.AssignValue("tcp.ack", "TCP acknowledgment number")
	r.AssignValue("tcp.flags", "TCP flags")

	r.Register("tcp_ssn", NewWithCapacity(0))
	_, err := r.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSessionTableCapacity))
	assert.True(t, errors.Is(err, core.ErrDecoderSetupFailed), "Registry.Build wraps constructor errors with ErrDecoderSetupFailed")
}

func newTestDecoder(t *testing.T) (*Decoder, *netdec.Registry, netdec.AttributeID, netdec.AttributeID, netdec.AttributeID) {
	t.Helper()

	r := netdec.NewRegistry()
	r.AssignValue("tcp.header", "raw TCP header bytes")
	seqID := r.AssignValue("tcp.seq", "TCP sequence number")
	ackID := r.AssignValue("tcp.ack", "TCP acknowledgment number")
	flagsID := r.AssignValue("tcp.flags", "TCP flags")

	r.Register("tcp_ssn", New())
	chain, err := r.Build()
	require.NoError(t, err)
	require.Len(t, chain, 1)

	d, ok := chain[0].(*Decoder)
	require.True(t, ok)
	return d, r, seqID, ackID, flagsID
}

func newProp(seqID, ackID, flagsID netdec.AttributeID, dir netdec.FlowDirection, flags uint8, seq, ack uint32, payload []byte, tvSec int64) *packet.Property {
	p := packet.New(payload, tvSec)
	p.SetEndpoints(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), 1234, 80)
	p.SetDir(dir)
	p.Copy(seqID, seq)
	p.Copy(ackID, ack)
	p.Copy(flagsID, flags)
	p.SetPayload(payload)
	return p
}

func eventNames(r *netdec.Registry, events []netdec.EventID) []string {
	names := make([]string, len(events))
	for i, id := range events {
		names[i] = r.EventName(id)
	}
	return names
}

func TestThreeWayHandshakeEstablishes(t *testing.T) {
	d, r, seqID, ackID, flagsID := newTestDecoder(t)

	p1 := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagSYN, 1000, 0, nil, 1000)
	d.Decode(p1)
	sess, ok := d.table.Get(p1.HashValue(), p1.SSNLabel())
	require.True(t, ok)
	assert.Equal(t, SYN_SENT, sess.ClientStat())
	assert.Equal(t, LISTEN, sess.ServerStat())
	assert.Empty(t, p1.Events())

	p2 := newProp(seqID, ackID, flagsID, netdec.DirR2L, FlagSYN|FlagACK, 5000, 1001, nil, 1000)
	d.Decode(p2)
	assert.Equal(t, SYN_SENT, sess.ClientStat())
	assert.Equal(t, SYN_RCVD, sess.ServerStat())
	assert.Empty(t, p2.Events())

	p3 := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, nil, 1000)
	d.Decode(p3)
	assert.Equal(t, ESTABLISHED, sess.ClientStat())
	assert.Equal(t, SYN_RCVD, sess.ServerStat())

	names := eventNames(r, p3.Events())
	assert.Contains(t, names, "tcp_ssn.established")
	assert.NotContains(t, names, "tcp_ssn.data")
}

func TestDataAfterHandshakeEmitsDataEvent(t *testing.T) {
	d, r, seqID, ackID, flagsID := newTestDecoder(t)

	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagSYN, 1000, 0, nil, 1000))
	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirR2L, FlagSYN|FlagACK, 5000, 1001, nil, 1000))
	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, nil, 1000))

	payload := make([]byte, 100)
	p4 := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, payload, 1000)
	d.Decode(p4)

	sess, ok := d.table.Get(p4.HashValue(), p4.SSNLabel())
	require.True(t, ok)
	assert.Equal(t, ESTABLISHED, sess.ClientStat())
	assert.Equal(t, SYN_RCVD, sess.ServerStat(), "the server only reaches ESTABLISHED via its own next send")

	names := eventNames(r, p4.Events())
	assert.Contains(t, names, "tcp_ssn.data")

	seg, ok := p4.BytesValue(d.segmentID)
	require.True(t, ok)
	assert.Len(t, seg, 100)

	toServer, ok := p4.Value(d.toServerID)
	require.True(t, ok)
	assert.Equal(t, true, toServer)
}

func TestPreSynPacketIsIgnored(t *testing.T) {
	d, _, seqID, ackID, flagsID := newTestDecoder(t)

	p := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, make([]byte, 50), 1000)
	d.Decode(p)

	sess, ok := d.table.Get(p.HashValue(), p.SSNLabel())
	require.True(t, ok, "the decoder still creates a session entry even for a rejected packet")
	assert.Equal(t, netdec.FlowDirection(netdec.DirNIL), sess.Dir)
	assert.Empty(t, p.Events())

	_, ok = p.Value(d.toServerID)
	assert.False(t, ok)
	_, ok = p.BytesValue(d.segmentID)
	assert.False(t, ok)
}

func TestHalfCloseTracksFinBookkeepingThroughClosing(t *testing.T) {
	d, _, seqID, ackID, flagsID := newTestDecoder(t)

	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagSYN, 1000, 0, nil, 1000))
	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirR2L, FlagSYN|FlagACK, 5000, 1001, nil, 1000))
	p3 := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, nil, 1000)
	d.Decode(p3)
	sess, ok := d.table.Get(p3.HashValue(), p3.SSNLabel())
	require.True(t, ok)
	require.Equal(t, ESTABLISHED, sess.ClientStat())
	require.Equal(t, SYN_RCVD, sess.ServerStat(), "the server only reaches ESTABLISHED via its own next send")

	// The server's own ACK is what moves it out of SYN_RCVD.
	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirR2L, FlagACK, 5001, 1001, nil, 1000))
	require.Equal(t, ESTABLISHED, sess.ServerStat())

	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagFIN|FlagACK, 1001, 5001, nil, 1000))
	assert.Equal(t, CLOSING, sess.ClientStat())
	assert.Equal(t, ESTABLISHED, sess.ServerStat())
	assert.True(t, sess.Server.RecvFin)

	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirR2L, FlagFIN|FlagACK, 5001, 1002, nil, 1000))
	assert.Equal(t, CLOSING, sess.ClientStat())
	assert.Equal(t, CLOSING, sess.ServerStat())
	assert.True(t, sess.Client.RecvFin)
	assert.True(t, sess.Client.RecvFinAck)

	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5002, nil, 1000))
	assert.True(t, sess.Client.SentFinAck)
	assert.True(t, sess.Server.RecvFinAck)
}

func TestInvalidSequenceIsRejected(t *testing.T) {
	d, _, seqID, ackID, flagsID := newTestDecoder(t)

	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagSYN, 1000, 0, nil, 1000))
	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirR2L, FlagSYN|FlagACK, 5000, 1001, nil, 1000))
	p3 := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, nil, 1000)
	d.Decode(p3)

	payload := make([]byte, 100)
	d.Decode(newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 1001, 5001, payload, 1000))

	sess, ok := d.table.Get(p3.HashValue(), p3.SSNLabel())
	require.True(t, ok)
	clientBefore := sess.Client

	bad := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagACK, 99999, 5001, make([]byte, 10), 1000)
	d.Decode(bad)

	assert.Equal(t, clientBefore, sess.Client)
	assert.Empty(t, bad.Events())
	_, ok = bad.BytesValue(d.segmentID)
	assert.False(t, ok)
}

func TestSessionEvictedByTimeout(t *testing.T) {
	d, _, seqID, ackID, flagsID := newTestDecoder(t)

	first := newProp(seqID, ackID, flagsID, netdec.DirL2R, FlagSYN, 1000, 0, nil, 1000)
	d.Decode(first)
	_, ok := d.table.Get(first.HashValue(), first.SSNLabel())
	require.True(t, ok)

	other := packet.New(nil, 1301)
	other.SetEndpoints(netip.MustParseAddr("10.9.9.1"), netip.MustParseAddr("10.9.9.2"), 9999, 8080)
	other.SetDir(netdec.DirL2R)
	other.Copy(seqID, uint32(1))
	other.Copy(ackID, uint32(0))
	other.Copy(flagsID, FlagSYN)
	d.Decode(other)

	_, ok = d.table.Get(first.HashValue(), first.SSNLabel())
	assert.False(t, ok, "session idle past TIMEOUT must be evicted on the next packet arrival")
}
