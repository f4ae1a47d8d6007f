package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/prizepay"
)

const commandTimeout = 10 * time.Minute

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Error encoding output: %v", err)
	}
}

// balanceCommands reads the treasury once and prints the report, raising the
// same alerts the API does when the balance is low.
func balanceCommands(p *prizepayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "check the treasury balance and prize coverage",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			report, err := p.prizepay.TreasuryMonitor().Check(ctx)
			if err != nil {
				log.Fatalf("Error reading treasury balance: %v", err)
			}
			printJSON(report)
		},
	}
}

func reconcileCommands(p *prizepayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "resolve unconfirmed payouts and release stuck claims",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			report, err := prizepay.NewReconciliationSweep(p.prizepay).Run(ctx)
			printJSON(report)
			if err != nil {
				log.Fatalf("Error reconciling payouts: %v", err)
			}
		},
	}
}

func drainCommands(p *prizepayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "process every pending payout once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			report, err := prizepay.NewPayoutWorker(p.prizepay).RunOnce(ctx)
			printJSON(report)
			if err != nil {
				log.Fatalf("Error draining payouts: %v", err)
			}
			fmt.Fprintf(os.Stderr, "drained %d payouts\n", report.Claimed)
		},
	}
}
