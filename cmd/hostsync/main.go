// Command hostsync is the host-kernel integration core's entrypoint: it
// bridges switch state to kernel network interfaces and back (spec §1).
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Global flags shared across subcommands.
var (
	globalConfigPath string
	globalVerbose    bool
	globalLogger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hostsync",
	Short: "Host-kernel integration core for a switch control-plane agent",
	Long: `hostsync bridges a switch's interface/address/route state into kernel
network interfaces (tun/tap devices, netlink addresses, policy routes)
and feeds kernel-originated changes (DHCP leases, ARP/NDP resolution)
back into switch state.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if globalVerbose {
			level = slog.LevelDebug
		}
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "", "path to config file (default: /etc/hostsync/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
