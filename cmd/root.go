// Package cmd implements swarm-dump's CLI commands using cobra.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	iface      string
	readFile   string
	bpfFilter  string
	logLevel   string

	viperInstance = viper.New()
)

// rootCmd is the base command when swarm-dump is called without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "swarm-dump",
	Short: "Inspect live or captured TCP traffic and report session events",
	Long: `swarm-dump captures packets from a live interface or a capture
file, reconstructs TCP session state without participating in the
connection, and reports session-lifecycle and data events to one or
more handlers.

It decodes only as far as session bookkeeping requires: Ethernet,
IPv4/IPv6, and TCP/UDP headers feed a TCP session tracker that
classifies each segment against a per-connection state machine and
emits events when a handshake completes or data flows. Sessions that
are torn down or time out are dropped without an event.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"path to a swarm-dump.yaml configuration file")
	rootCmd.PersistentFlags().StringVar(&iface, "iface", "",
		"live interface to capture from")
	rootCmd.PersistentFlags().StringVar(&readFile, "read-file", "",
		"pcap file to read instead of a live interface")
	rootCmd.PersistentFlags().StringVar(&bpfFilter, "bpf", "",
		"BPF filter expression applied to the capture source")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override the configured log level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
