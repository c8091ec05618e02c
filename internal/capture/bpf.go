package capture

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBPF compiles filter for an Ethernet link into the raw
// instruction form afpacket.TPacket.SetBPF wants. pcap.Handle sources
// use pcap.Handle.SetBPFFilter directly instead.
func CompileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	prog, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("capture: compiling BPF filter %q: %w", filter, err)
	}

	raw := make([]bpf.RawInstruction, len(prog))
	for i, ins := range prog {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// FormatBPF substitutes {local_ip}, {remote_ip} and {remote_port}
// placeholders in a BPF filter template, so a single configured
// template can be reused across flows without per-flow string
// building at the call site.
func FormatBPF(tpl string, localIP, remoteIP string, remotePort int) string {
	r := strings.NewReplacer(
		"{local_ip}", localIP,
		"{remote_ip}", remoteIP,
		"{remote_port}", fmt.Sprintf("%d", remotePort),
	)
	return r.Replace(tpl)
}
