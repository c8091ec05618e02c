package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swarmdump/swarm/internal/capture"
	"github.com/swarmdump/swarm/internal/config"
	"github.com/swarmdump/swarm/internal/decoder/link"
	"github.com/swarmdump/swarm/internal/decoder/network"
	"github.com/swarmdump/swarm/internal/decoder/tcpssn"
	"github.com/swarmdump/swarm/internal/decoder/transport"
	"github.com/swarmdump/swarm/internal/dispatch"
	"github.com/swarmdump/swarm/internal/handler"
	"github.com/swarmdump/swarm/internal/log"
	"github.com/swarmdump/swarm/internal/netdec"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and decode TCP traffic until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMain()
	},
}

func runMain() error {
	bindRunFlags()

	cfg, err := config.Load(configFile, viperInstance)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if err := log.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("run: initializing logger: %w", err)
	}
	logEntry := log.Entry()

	src, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	registry := netdec.NewRegistry()
	registry.Register("link", link.New())
	registry.Register("network", network.New())
	registry.Register("transport", transport.New())
	registry.Register("tcp_ssn", tcpssn.NewWithCapacity(cfg.Session.Capacity))

	chain, err := registry.Build()
	if err != nil {
		return fmt.Errorf("run: building decoder chain: %w", err)
	}

	handlers, err := buildHandlers(cfg, registry)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	d := dispatch.New(dispatch.Config{
		Source:   src,
		Registry: registry,
		Chain:    chain,
		Handlers: handlers,
		Log:      logEntry,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logEntry.Info("shutting down")
		if err := d.Stop(); err != nil {
			logEntry.WithError(err).Warn("stop reported an error")
		}
	}()

	if err := d.Run(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func bindRunFlags() {
	if iface != "" {
		viperInstance.Set("capture.iface", iface)
	}
	if readFile != "" {
		viperInstance.Set("capture.read_file", readFile)
	}
	if bpfFilter != "" {
		viperInstance.Set("capture.bpf", bpfFilter)
	}
	if logLevel != "" {
		viperInstance.Set("logger.level", logLevel)
	}
}

func openSource(cfg *config.Config) (capture.Source, error) {
	bpf := cfg.ResolvedBPF()
	switch cfg.Capture.Backend {
	case "afpacket":
		return capture.NewAFPacketSource(capture.AFPacketConfig{
			Iface:        cfg.Capture.Iface,
			SnapLen:      cfg.Capture.SnapLen,
			BufferSizeMB: cfg.Capture.BufferSizeMB,
			TimeoutMs:    cfg.Capture.TimeoutMs,
			FanoutID:     cfg.Capture.FanoutID,
			BPF:          bpf,
		})
	default:
		return capture.NewPcapSource(capture.PcapConfig{
			Iface:    cfg.Capture.Iface,
			ReadFile: cfg.Capture.ReadFile,
			SnapLen:  cfg.Capture.SnapLen,
			Promisc:  cfg.Capture.Promisc,
			Timeout:  cfg.Capture.TimeoutMs,
			BPF:      bpf,
		})
	}
}

func buildHandlers(cfg *config.Config, registry *netdec.Registry) ([]handler.Handler, error) {
	var handlers []handler.Handler

	if cfg.Handler.Console != nil {
		h, err := handler.NewConsoleHandler(os.Stdout, cfg.Handler.Console.Format, registry)
		if err != nil {
			return nil, fmt.Errorf("building console handler: %w", err)
		}
		handlers = append(handlers, h)
	}

	if len(handlers) == 0 {
		return nil, fmt.Errorf("no handlers configured")
	}
	return handlers, nil
}
