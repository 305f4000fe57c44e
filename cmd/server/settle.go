package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func settleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Run one settlement sweep and exit",
		Long: "Pays approved influencers and refunds advertisers for every contract past its " +
			"settlement grace period. Honors the configured run lock, so it will not overlap a " +
			"sweep started by a running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.runs.RunManually(ctx)
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("settlement finished with failures")
			}
			return nil
		},
	}
}

func chainStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chain-status",
		Short: "Print chain connection and escrow contract status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFrom(ctx)
			gw := dialChain(ctx, cfg)
			defer gw.Close()

			status := gw.GetStatus(ctx)
			if err := printJSON(status); err != nil {
				return err
			}
			if !status.Connected {
				return fmt.Errorf("chain not connected: %s", status.Error)
			}
			if balance, err := gw.GetContractBalance(ctx); err == nil {
				fmt.Printf("escrow balance: %s ETH\n", balance.Ether)
			}
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
