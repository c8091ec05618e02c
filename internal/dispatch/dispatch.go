// Package dispatch drives one capture source's decoder chain: it
// reads packets on one goroutine, decodes and fans events out on
// another, and owns graceful teardown of any decoder that needs to
// drain state (the TCP session decoder's LRU table) before exit.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/swarmdump/swarm/internal/capture"
	"github.com/swarmdump/swarm/internal/handler"
	"github.com/swarmdump/swarm/internal/netdec"
	"github.com/swarmdump/swarm/internal/packet"
)

// Teardowner is implemented by decoders that hold resources needing
// an explicit drain on shutdown, such as the TCP session decoder's
// LRU table.
type Teardowner interface {
	Teardown()
}

// Config wires a Dispatcher to one capture source and one decoder
// chain built against a shared registry.
type Config struct {
	Source     capture.Source
	Registry   *netdec.Registry
	Chain      []netdec.Decoder
	Handlers   []handler.Handler
	BufferSize int
	Log        *logrus.Entry
}

// Dispatcher runs a single-threaded-per-packet decode loop: the
// decoder chain processes one packet to completion before the next
// is decoded, matching the cooperative scheduling model every core
// decoder (in particular the TCP session decoder) assumes. Capture
// I/O runs on its own goroutine so a slow handler never blocks the
// kernel ring buffer from draining.
type Dispatcher struct {
	cfg Config
	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rawCh chan rawPacket

	Metrics Metrics
}

type rawPacket struct {
	data  []byte
	tvSec int64
}

// New returns a Dispatcher for cfg. BufferSize defaults to 1024 when
// zero.
func New(cfg Config) *Dispatcher {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		log:    cfg.Log,
		ctx:    ctx,
		cancel: cancel,
		rawCh:  make(chan rawPacket, cfg.BufferSize),
	}
}

// Run opens the capture source and blocks until the source is
// exhausted (offline file) or Stop is called (live capture). It is
// the caller's job to invoke it on its own goroutine for a live
// source.
func (d *Dispatcher) Run() error {
	if err := d.cfg.Source.Open(); err != nil {
		return fmt.Errorf("dispatch: opening capture source: %w", err)
	}

	d.wg.Add(1)
	go d.captureLoop()

	d.processLoop()
	d.wg.Wait()
	return nil
}

// Stop cancels the dispatcher, closes the capture source, drains any
// decoder that needs a final teardown, and flushes every handler.
func (d *Dispatcher) Stop() error {
	d.cancel()
	d.wg.Wait()

	if err := d.cfg.Source.Close(); err != nil {
		d.log.WithError(err).Warn("closing capture source")
	}

	for _, dec := range d.cfg.Chain {
		if t, ok := dec.(Teardowner); ok {
			t.Teardown()
		}
	}

	var flushErr error
	for _, h := range d.cfg.Handlers {
		if err := h.Flush(); err != nil {
			flushErr = err
			d.log.WithError(err).Warn("flushing handler")
		}
	}
	return flushErr
}

func (d *Dispatcher) captureLoop() {
	defer d.wg.Done()
	defer close(d.rawCh)

	for {
		data, ci, err := d.cfg.Source.ReadPacket()
		if err != nil {
			if err != io.EOF {
				d.log.WithError(err).Warn("reading packet")
			}
			return
		}

		select {
		case d.rawCh <- rawPacket{data: data, tvSec: ci.Timestamp.Unix()}:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) processLoop() {
	for {
		select {
		case raw, ok := <-d.rawCh:
			if !ok {
				return
			}
			d.Metrics.Received.Add(1)
			d.processPacket(raw)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) processPacket(raw rawPacket) {
	p := packet.New(raw.data, raw.tvSec)

	for _, dec := range d.cfg.Chain {
		if !dec.Decode(p) {
			break
		}
	}
	d.Metrics.Decoded.Add(1)

	events := p.Events()
	for _, id := range events {
		d.Metrics.EventsPushed.Add(1)
		ev := handler.Event{Name: d.cfg.Registry.EventName(id), ID: id, P: p}
		for _, h := range d.cfg.Handlers {
			if err := h.Handle(ev); err != nil {
				d.Metrics.HandlerErrors.Add(1)
				d.log.WithError(err).Warn("handler failed")
			}
		}
	}
}
