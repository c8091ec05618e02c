package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/swarmdump/swarm/internal/core"
)

func durationMillis(ms int) time.Duration {
	if ms <= 0 {
		return pcap.BlockForever
	}
	return time.Duration(ms) * time.Millisecond
}

// PcapConfig configures a libpcap-backed Source. Exactly one of
// Iface or ReadFile should be set: Iface opens a live capture,
// ReadFile replays an existing capture file.
type PcapConfig struct {
	Iface    string
	ReadFile string
	SnapLen  int
	Promisc  bool
	Timeout  int // milliseconds
	BPF      string
}

// PcapSource wraps a libpcap handle, live or offline depending on
// which of Iface/ReadFile its config names.
type PcapSource struct {
	cfg    PcapConfig
	handle *pcap.Handle
}

// NewPcapSource validates cfg and returns an unopened source.
func NewPcapSource(cfg PcapConfig) (*PcapSource, error) {
	if cfg.Iface == "" && cfg.ReadFile == "" {
		return nil, fmt.Errorf("capture: either iface or read_file is required: %w", core.ErrCaptureSourceRequired)
	}
	if cfg.Iface != "" && cfg.ReadFile != "" {
		return nil, fmt.Errorf("capture: iface and read_file are mutually exclusive: %w", core.ErrConfigInvalid)
	}
	if cfg.SnapLen == 0 {
		cfg.SnapLen = 65535
	}
	return &PcapSource{cfg: cfg}, nil
}

// Open implements Source.
func (s *PcapSource) Open() error {
	var handle *pcap.Handle
	var err error

	if s.cfg.ReadFile != "" {
		handle, err = pcap.OpenOffline(s.cfg.ReadFile)
		if err != nil {
			return fmt.Errorf("capture: opening capture file %s: %w: %w", s.cfg.ReadFile, err, core.ErrCaptureOpenFailed)
		}
	} else {
		handle, err = pcap.OpenLive(s.cfg.Iface, int32(s.cfg.SnapLen), s.cfg.Promisc, durationMillis(s.cfg.Timeout))
		if err != nil {
			return fmt.Errorf("capture: opening interface %s: %w: %w", s.cfg.Iface, err, core.ErrCaptureOpenFailed)
		}
	}

	if s.cfg.BPF != "" {
		if err := handle.SetBPFFilter(s.cfg.BPF); err != nil {
			handle.Close()
			return fmt.Errorf("capture: applying BPF filter %q: %w: %w", s.cfg.BPF, err, core.ErrCaptureOpenFailed)
		}
	}

	s.handle = handle
	return nil
}

// ReadPacket implements Source.
func (s *PcapSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	return data, ci, nil
}

// LinkType implements Source.
func (s *PcapSource) LinkType() layers.LinkType {
	if s.handle == nil {
		return layers.LinkTypeEthernet
	}
	return s.handle.LinkType()
}

// Close implements Source.
func (s *PcapSource) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
