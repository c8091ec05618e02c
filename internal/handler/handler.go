// Package handler delivers the events and attributes the decoder
// chain pushes onto a Property to whatever consumes them downstream —
// the event-delivery fan-out spec.md names as an external collaborator.
package handler

import (
	"github.com/swarmdump/swarm/internal/netdec"
)

// Event is one occurrence a decoder pushed during a packet's decode
// pass, resolved to its registered name for a handler's convenience.
type Event struct {
	Name string
	ID   netdec.EventID
	P    netdec.Property
}

// Handler receives every event a capture source's decoder chain
// pushes, in the order packets were processed.
type Handler interface {
	Handle(ev Event) error
	Flush() error
}
