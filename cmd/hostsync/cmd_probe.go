package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/facebook/fboss-sub029/internal/kernelprobe"
	"github.com/facebook/fboss-sub029/internal/netlinkclient"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a one-shot kernel probe and print discovered tap interfaces",
	Long: `Dump every host interface named fboss<ID> along with its ifindex,
admin state, MTU, and number of addresses, without starting the core.`,
	RunE: runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	client := netlinkclient.New()
	prober := kernelprobe.New(client, "fboss")

	found, err := prober.Probe(context.Background())
	if err != nil {
		return fmt.Errorf("probing kernel: %w", err)
	}

	if len(found) == 0 {
		fmt.Println("No fboss<ID> tap interfaces found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIFINDEX\tUP\tMTU\tADDRESSES")
	for _, f := range found {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\t%d\n", f.ID, f.Name, f.Ifindex, f.Up, f.MTU, len(f.Addresses))
	}
	return w.Flush()
}
