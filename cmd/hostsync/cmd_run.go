//go:build linux

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/facebook/fboss-sub029/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the host-kernel integration core",
	Long: `Start the core: create tap devices for switch interfaces, subscribe to
kernel netlink changes, and reconcile switch state against the kernel
until a termination signal is received.

Requires root privileges for tap device creation and netlink writes:
  sudo hostsync run --config /etc/hostsync/config.toml`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := core.New(cfg, globalLogger)
	if err != nil {
		return fmt.Errorf("building core: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	globalLogger.Info("starting hostsync", "config", resolvedConfigPath())

	if err := c.Run(ctx); err != nil {
		if ctx.Err() != nil {
			globalLogger.Info("hostsync stopped")
			return nil
		}
		return fmt.Errorf("core error: %w", err)
	}
	return nil
}
