package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

// ConsoleHandler writes every tcp_ssn.established/tcp_ssn.data event
// to an io.Writer, either as JSON lines or as short text lines.
type ConsoleHandler struct {
	w      io.Writer
	format string // "json" or "text"
	r      *netdec.Registry

	toServerID   netdec.AttributeID
	serverStatID netdec.AttributeID
	clientStatID netdec.AttributeID
	segmentID    netdec.AttributeID

	reported atomic.Uint64
}

// NewConsoleHandler resolves the tcp_ssn.* attribute IDs from r and
// returns a handler writing to w. format must be "json" or "text".
func NewConsoleHandler(w io.Writer, format string, r *netdec.Registry) (*ConsoleHandler, error) {
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("handler: invalid console format %q, must be json or text", format)
	}

	toServerID, ok := r.LookupValueID("tcp_ssn.to_server")
	if !ok {
		return nil, netdec.MissingAttributeError("tcp_ssn.to_server")
	}
	serverStatID, ok := r.LookupValueID("tcp_ssn.server_stat")
	if !ok {
		return nil, netdec.MissingAttributeError("tcp_ssn.server_stat")
	}
	clientStatID, ok := r.LookupValueID("tcp_ssn.client_stat")
	if !ok {
		return nil, netdec.MissingAttributeError("tcp_ssn.client_stat")
	}
	segmentID, ok := r.LookupValueID("tcp_ssn.segment")
	if !ok {
		return nil, netdec.MissingAttributeError("tcp_ssn.segment")
	}

	return &ConsoleHandler{
		w:            w,
		format:       format,
		r:            r,
		toServerID:   toServerID,
		serverStatID: serverStatID,
		clientStatID: clientStatID,
		segmentID:    segmentID,
	}, nil
}

// Handle implements Handler.
func (h *ConsoleHandler) Handle(ev Event) error {
	h.reported.Add(1)

	p, ok := ev.P.(*packet.Property)
	if !ok {
		return fmt.Errorf("handler: console handler requires a *packet.Property")
	}

	if h.format == "json" {
		return h.handleJSON(ev, p)
	}
	return h.handleText(ev, p)
}

func (h *ConsoleHandler) handleJSON(ev Event, p *packet.Property) error {
	out := map[string]any{
		"event": ev.Name,
		"tv_sec": p.TVSec(),
		"dir":   p.Dir().String(),
	}
	if v, ok := p.Value(h.toServerID); ok {
		out["to_server"] = v
	}
	if v, ok := p.Value(h.serverStatID); ok {
		out["server_stat"] = h.r.FormatValue(h.serverStatID, v)
	}
	if v, ok := p.Value(h.clientStatID); ok {
		out["client_stat"] = h.r.FormatValue(h.clientStatID, v)
	}
	if seg, ok := p.BytesValue(h.segmentID); ok {
		out["segment_len"] = len(seg)
	}

	enc, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("handler: marshaling console event: %w", err)
	}
	_, err = fmt.Fprintln(h.w, string(enc))
	return err
}

func (h *ConsoleHandler) handleText(ev Event, p *packet.Property) error {
	formatStat := func(id netdec.AttributeID) string {
		if v, ok := p.Value(id); ok {
			return h.r.FormatValue(id, v)
		}
		return "-"
	}
	segLen := 0
	if seg, ok := p.BytesValue(h.segmentID); ok {
		segLen = len(seg)
	}

	_, err := fmt.Fprintf(h.w, "%d %-20s dir=%-4s client=%-11s server=%-11s seg=%d\n",
		p.TVSec(), ev.Name, p.Dir(),
		formatStat(h.clientStatID),
		formatStat(h.serverStatID),
		segLen,
	)
	return err
}

// Flush implements Handler. The console handler writes synchronously
// and has nothing buffered to flush.
func (h *ConsoleHandler) Flush() error { return nil }

// Reported returns the number of events handled so far.
func (h *ConsoleHandler) Reported() uint64 { return h.reported.Load() }
