package netdec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmdump/swarm/internal/core"
)

func TestAssignValueIsIdempotentByName(t *testing.T) {
	r := NewRegistry()
	id1 := r.AssignValue("tcp.seq", "sequence number")
	id2 := r.AssignValue("tcp.seq", "sequence number, again")
	assert.Equal(t, id1, id2)
}

func TestAssignEventIsIdempotentByName(t *testing.T) {
	r := NewRegistry()
	id1 := r.AssignEvent("tcp_ssn.established", "handshake completed")
	id2 := r.AssignEvent("tcp_ssn.established", "handshake completed")
	assert.Equal(t, id1, id2)
}

func TestLookupValueIDMissingReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.LookupValueID("does.not.exist")
	assert.False(t, ok)
}

func TestValueNameRoundTrips(t *testing.T) {
	r := NewRegistry()
	id := r.AssignValue("ip.src", "source address")
	assert.Equal(t, "ip.src", r.ValueName(id))
}

func TestValueNameOutOfRangeReturnsEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "", r.ValueName(AttributeID(99)))
}

func TestFormatValueUsesRegisteredFormatter(t *testing.T) {
	r := NewRegistry()
	id := r.AssignValue("tcp_ssn.client_stat", "client state", func(v any) string {
		return "formatted:" + v.(string)
	})
	assert.Equal(t, "formatted:ESTABLISHED", r.FormatValue(id, "ESTABLISHED"))
}

func TestFormatValueFallsBackToDefaultVerb(t *testing.T) {
	r := NewRegistry()
	id := r.AssignValue("ip.ttl", "ttl")
	assert.Equal(t, "64", r.FormatValue(id, 64))
}

func TestBuildRunsConstructorsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.Register("first", func(r *Registry) (Decoder, error) {
		order = append(order, "first")
		return stubDecoder{}, nil
	})
	r.Register("second", func(r *Registry) (Decoder, error) {
		order = append(order, "second")
		return stubDecoder{}, nil
	})

	chain, err := r.Build()
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBuildAbortsOnConstructorError(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", func(r *Registry) (Decoder, error) { return stubDecoder{}, nil })
	r.Register("missing", func(r *Registry) (Decoder, error) {
		return nil, MissingAttributeError("tcp.seq")
	})
	r.Register("never-runs", func(r *Registry) (Decoder, error) {
		t.Fatal("constructor after a failing one must not run")
		return nil, nil
	})

	_, err := r.Build()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tcp.seq")
	assert.ErrorIs(t, err, core.ErrDecoderSetupFailed)
}

func TestFlowDirectionString(t *testing.T) {
	assert.Equal(t, "NIL", DirNIL.String())
	assert.Equal(t, "L2R", DirL2R.String())
	assert.Equal(t, "R2L", DirR2L.String())
}

type stubDecoder struct{}

func (stubDecoder) Decode(p Property) bool { return true }
