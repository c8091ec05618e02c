// Package netdec implements the decoder registry and the Property
// contract that decoders in the chain read from and write to.
//
// It plays the role of the framework's "NetDec": a place where decoders
// register the named events and typed attributes they produce, and
// where later decoders in the chain look up the IDs assigned to
// attributes produced earlier (e.g. the TCP session decoder looks up
// the TCP header fields the transport decoder assigned).
package netdec

import (
	"fmt"
	"sync"

	"github.com/swarmdump/swarm/internal/core"
)

// AttributeID identifies a named, typed per-packet value slot.
type AttributeID int

// EventID identifies a named signal a decoder can push to handlers.
type EventID int

// FlowDirection is which of the two canonical flow endpoints sent a
// given packet. Assigned by the lower-layer decoders from the byte
// comparison of the two endpoint identities.
type FlowDirection int

const (
	DirNIL FlowDirection = iota
	DirL2R
	DirR2L
)

func (d FlowDirection) String() string {
	switch d {
	case DirL2R:
		return "L2R"
	case DirR2L:
		return "R2L"
	default:
		return "NIL"
	}
}

// Formatter renders an attribute's stored value as a human-readable
// string, e.g. turning a TcpState constant into its symbolic name.
type Formatter func(v any) string

// Property is the per-packet state object decoders in the chain share.
// A concrete decoder in the chain reads attributes a prior decoder
// wrote, and writes its own; it pushes events that fan out to handlers.
//
// This is the only contract the TCP session decoder programs against —
// it never depends on the concrete packet type a capture source
// produces.
type Property interface {
	TVSec() int64
	Dir() FlowDirection
	Remain() int
	Payload(n int) []byte
	SSNLabel() []byte
	HashValue() uint64

	Uint8(id AttributeID) (uint8, bool)
	Uint16(id AttributeID) (uint16, bool)
	Uint32(id AttributeID) (uint32, bool)

	Set(id AttributeID, data []byte)
	Copy(id AttributeID, v any)
	PushEvent(id EventID)
}

// Decoder is one link in the chain a capture source drives, one
// packet at a time.
type Decoder interface {
	Decode(p Property) bool
}

// DecoderConstructor builds a Decoder against a Registry, resolving
// whatever attribute/event IDs it needs and registering its own.
// Returning an error aborts setup — used for the fatal configuration
// errors spec.md §7(a) calls for (e.g. a missing upstream attribute).
type DecoderConstructor func(r *Registry) (Decoder, error)

type valueDef struct {
	name      string
	desc      string
	formatter Formatter
}

type eventDef struct {
	name string
	desc string
}

// Registry is the explicit, program-start-built decoder registry that
// replaces a static-initializer self-registration scheme: constructors
// are appended to a list by an explicit call, then built in order.
type Registry struct {
	mu sync.Mutex

	values     []valueDef
	valueIndex map[string]AttributeID

	events     []eventDef
	eventIndex map[string]EventID

	constructors []namedConstructor
}

type namedConstructor struct {
	name string
	fn   DecoderConstructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		valueIndex: make(map[string]AttributeID),
		eventIndex: make(map[string]EventID),
	}
}

// AssignValue registers a named attribute and returns its ID. Calling
// it twice for the same name returns the existing ID.
func (r *Registry) AssignValue(name, description string, formatter ...Formatter) AttributeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.valueIndex[name]; ok {
		return id
	}
	var f Formatter
	if len(formatter) > 0 {
		f = formatter[0]
	}
	id := AttributeID(len(r.values))
	r.values = append(r.values, valueDef{name: name, desc: description, formatter: f})
	r.valueIndex[name] = id
	return id
}

// AssignEvent registers a named event and returns its ID.
func (r *Registry) AssignEvent(name, description string) EventID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.eventIndex[name]; ok {
		return id
	}
	id := EventID(len(r.events))
	r.events = append(r.events, eventDef{name: name, desc: description})
	r.eventIndex[name] = id
	return id
}

// LookupValueID returns the ID assigned to name, or false if no
// decoder has assigned it yet.
func (r *Registry) LookupValueID(name string) (AttributeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.valueIndex[name]
	return id, ok
}

// LookupEventID returns the ID assigned to name, or false.
func (r *Registry) LookupEventID(name string) (EventID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.eventIndex[name]
	return id, ok
}

// ValueName returns the name an attribute was assigned under, for
// logging and handler diagnostics.
func (r *Registry) ValueName(id AttributeID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < 0 || int(id) >= len(r.values) {
		return ""
	}
	return r.values[id].name
}

// EventName returns the name an event was assigned under.
func (r *Registry) EventName(id EventID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) < 0 || int(id) >= len(r.events) {
		return ""
	}
	return r.events[id].name
}

// FormatValue renders v using the formatter registered for id, or
// fmt's default verb when none was registered.
func (r *Registry) FormatValue(id AttributeID, v any) string {
	r.mu.Lock()
	var f Formatter
	if int(id) >= 0 && int(id) < len(r.values) {
		f = r.values[id].formatter
	}
	r.mu.Unlock()
	if f != nil {
		return f(v)
	}
	return fmt.Sprint(v)
}

// MissingAttributeError reports that a decoder constructor needed an
// attribute ID a prior decoder should have assigned. Returning it from
// a DecoderConstructor is the fatal configuration error spec.md §7(a)
// calls for.
func MissingAttributeError(name string) error {
	return fmt.Errorf("netdec: missing upstream attribute %q", name)
}

// Register appends a named decoder constructor to the build list. The
// explicit list, built at program start by the caller, replaces the
// teacher's static-initializer self-registration macro.
func (r *Registry) Register(name string, fn DecoderConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors = append(r.constructors, namedConstructor{name: name, fn: fn})
}

// Build runs every registered constructor, in registration order, and
// returns the resulting decoder chain. A constructor error — e.g. a
// missing upstream attribute ID — is fatal and aborts the build.
func (r *Registry) Build() ([]Decoder, error) {
	r.mu.Lock()
	constructors := make([]namedConstructor, len(r.constructors))
	copy(constructors, r.constructors)
	r.mu.Unlock()

	chain := make([]Decoder, 0, len(constructors))
	for _, nc := range constructors {
		d, err := nc.fn(r)
		if err != nil {
			return nil, fmt.Errorf("netdec: building decoder %q: %w: %w", nc.name, err, core.ErrDecoderSetupFailed)
		}
		chain = append(chain, d)
	}
	return chain, nil
}
