package capture

import (
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"github.com/swarmdump/swarm/internal/core"
)

// AFPacketConfig configures a Linux AF_PACKET ring-buffer capture.
type AFPacketConfig struct {
	Iface        string
	SnapLen      int
	BufferSizeMB int
	TimeoutMs    int
	FanoutID     uint16
	BPF          string
}

// AFPacketSource captures from a Linux AF_PACKET TPacket ring,
// avoiding libpcap's userspace copy on the hot path.
type AFPacketSource struct {
	cfg AFPacketConfig

	frameSize int
	blockSize int
	numBlocks int

	handle *afpacket.TPacket
}

// NewAFPacketSource computes the ring's frame/block geometry from cfg
// and returns an unopened source.
func NewAFPacketSource(cfg AFPacketConfig) (*AFPacketSource, error) {
	if cfg.Iface == "" {
		return nil, fmt.Errorf("capture: iface is required for an afpacket source: %w", core.ErrCaptureSourceRequired)
	}
	if cfg.SnapLen == 0 {
		cfg.SnapLen = 65535
	}
	if cfg.BufferSizeMB == 0 {
		cfg.BufferSizeMB = 16
	}

	frameSize, blockSize, numBlocks, err := ringGeometry(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, core.ErrConfigInvalid)
	}

	return &AFPacketSource{
		cfg:       cfg,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

// Open implements Source.
func (s *AFPacketSource) Open() error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.cfg.Iface),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.cfg.TimeoutMs),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("capture: opening afpacket ring on %s: %w: %w", s.cfg.Iface, err, core.ErrCaptureOpenFailed)
	}

	if s.cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, s.cfg.FanoutID); err != nil {
			tp.Close()
			return fmt.Errorf("capture: setting fanout group %d: %w: %w", s.cfg.FanoutID, err, core.ErrCaptureOpenFailed)
		}
	}

	if s.cfg.BPF != "" {
		raw, err := CompileBPF(s.cfg.BPF, s.cfg.SnapLen)
		if err != nil {
			tp.Close()
			return fmt.Errorf("%w: %w", err, core.ErrCaptureOpenFailed)
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return fmt.Errorf("capture: installing BPF program: %w: %w", err, core.ErrCaptureOpenFailed)
		}
	}

	s.handle = tp
	return nil
}

// ReadPacket implements Source.
func (s *AFPacketSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return s.handle.ReadPacketData()
}

// LinkType implements Source. AF_PACKET always hands us Ethernet
// frames regardless of the underlying device type.
func (s *AFPacketSource) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

// Close implements Source.
func (s *AFPacketSource) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}

// ringGeometry derives a TPACKET_ALIGNMENT-compliant frame size and a
// page- and frame-aligned block size/count from a target ring buffer
// budget, following the PACKET_MMAP layout rules.
func ringGeometry(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52

	if bufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("capture: buffer_size_mb must be positive, got %d", bufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("capture: snap_len must be positive, got %d", snapLen)
	}

	targetBytes := bufferSizeMB * 1024 * 1024

	rawFrameSize := tpacketHdrLen + snapLen
	frameSize = align(rawFrameSize, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	const maxBlockSize = 4 * 1024 * 1024
	if blockSize > maxBlockSize {
		// No common multiple of page and frame size fits under the cap:
		// pad the frame to whole pages so a block of whole frames is
		// page-aligned as well.
		frameSize = align(frameSize, pageSize)
		blockSize = (maxBlockSize / frameSize) * frameSize
		if blockSize < frameSize {
			blockSize = frameSize
		}
	}

	numBlocks = targetBytes / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	return frameSize, blockSize, numBlocks, nil
}

func align(n, to int) int {
	return ((n + to - 1) / to) * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a * b) / gcd(a, b)
}
