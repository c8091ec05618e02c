// Package capture opens a live interface or an offline capture file
// and hands the dispatcher one packet at a time, shielding it from
// which of the two concrete transports is actually in play.
package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Source is what the dispatcher drives: open once, read packets
// until ReadPacket reports io.EOF (offline) or the dispatcher is
// stopped (live), close once.
type Source interface {
	Open() error
	ReadPacket() (data []byte, ci gopacket.CaptureInfo, err error)
	LinkType() layers.LinkType
	Close() error
}
