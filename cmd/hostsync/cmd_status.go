package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/facebook/fboss-sub029/internal/control"
)

var statusSocketPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running core's status over its control socket",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSocketPath, "socket", "", "control socket path (default: resolved per-platform)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	socketPath := statusSocketPath
	if socketPath == "" {
		socketPath = control.ResolveSocketPath()
	}

	status, err := control.FetchStatus(socketPath)
	if err != nil {
		return fmt.Errorf("is hostsync running? %w", err)
	}

	fmt.Fprintf(os.Stdout, "Probed:          %t\n", status.Probed)
	fmt.Fprintf(os.Stdout, "SyncsPerformed:  %d\n", status.SyncsPerformed)
	fmt.Fprintf(os.Stdout, "Interfaces:      %d\n", len(status.Interfaces))
	fmt.Println()

	if len(status.Interfaces) == 0 {
		fmt.Println("No tap interfaces synced.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIFINDEX\tUP\tMTU\tADDRESSES")
	for _, i := range status.Interfaces {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\t%v\n", i.ID, i.Name, i.Ifindex, i.Up, i.MTU, i.Addresses)
	}
	return w.Flush()
}
