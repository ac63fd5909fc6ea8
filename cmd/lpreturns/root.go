package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/canopy-network/lpreturns/pkg/config"
	"github.com/canopy-network/lpreturns/pkg/logging"
	"github.com/canopy-network/lpreturns/pkg/returns"
	"github.com/canopy-network/lpreturns/pkg/stack"
	"github.com/canopy-network/lpreturns/pkg/subgraph"
	"github.com/spf13/cobra"
)

// Backend is what the commands query.
type Backend interface {
	HistoricalReturns(ctx context.Context, user, pairID string, start int64) (returns.Reconstruction, error)
	PositionReports(ctx context.Context, user string) ([]returns.PositionReport, error)
}

// BackendFactory builds a Backend and a function releasing it.
type BackendFactory func(ctx context.Context) (Backend, func(), error)

func defaultBackend(ctx context.Context) (Backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return nil, nil, err
	}
	s, err := stack.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return s.Service, func() {
		_ = s.Close()
		_ = logger.Sync()
	}, nil
}

// NewRootCmd returns the lpreturns command tree.
func NewRootCmd(backend BackendFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lpreturns",
		Short: "Reconstruct the history of liquidity positions",
		Long: `Reconstruct the daily value and fee income of liquidity positions from
subgraph data. Configuration is read from LPR_* environment variables and .env.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP("output", "o", "text", "output format: text or json")
	cmd.PersistentFlags().Duration("timeout", 5*time.Minute, "give up after this long")

	cmd.AddCommand(
		GetCmdReturns(backend),
		GetCmdPositions(backend),
	)
	return cmd
}

// GetCmdReturns prints the daily series of one position.
func GetCmdReturns(backend BackendFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "returns [user] [pair]",
		Short: "Daily value and cumulative fees of a position",
		Long: `Rebuild one value and cumulative fee figure per closed day for the user's
position in the pair.

Example:
  $ lpreturns returns 0x001b71fad769b3cd47fd4c9849c704fdfabf6096 0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc --start 2021-01-01`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := subgraph.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			pair, err := subgraph.NormalizeAddress(args[1])
			if err != nil {
				return err
			}
			rawStart, _ := cmd.Flags().GetString("start")
			start, err := parseStart(rawStart)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			b, release, err := backend(ctx)
			if err != nil {
				return err
			}
			defer release()

			rec, err := b.HistoricalReturns(ctx, user, pair, start)
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd, rec)
			}
			if len(rec.Returns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no closed days to report")
				return nil
			}
			live := make(map[int64]bool, len(rec.LiveStateDays))
			for _, d := range rec.LiveStateDays {
				live[d] = true
			}
			w := newTable(cmd)
			fmt.Fprintln(w, "DATE\tVALUE USD\tFEES USD\t")
			for _, r := range rec.Returns {
				mark := ""
				if live[r.Date] {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%.2f\t%.4f\t%s\n", time.Unix(r.Date, 0).UTC().Format(time.DateOnly), r.USDValue, r.Fees, mark)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(rec.LiveStateDays) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "* closed on live pool state")
			}
			return nil
		},
	}
	cmd.Flags().String("start", "0", "first day: unix seconds or YYYY-MM-DD")
	return cmd
}

// GetCmdPositions prints impermanent loss and fees of every snapshot of a user.
func GetCmdPositions(backend BackendFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions [user]",
		Short: "Impermanent loss and fees of every position snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := subgraph.NormalizeAddress(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			b, release, err := backend(ctx)
			if err != nil {
				return err
			}
			defer release()

			reports, err := b.PositionReports(ctx, user)
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd, reports)
			}
			out := cmd.OutOrStdout()
			for _, r := range reports {
				fmt.Fprintf(out, "%s/%s %s\n", r.Token0Symbol, r.Token1Symbol, time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339))
				if r.Error != "" {
					fmt.Fprintf(out, "  error: %s\n", r.Error)
					continue
				}
				fmt.Fprintf(out, "  Old prices: %g, %g\n", r.OldPrice0USD, r.OldPrice1USD)
				fmt.Fprintf(out, "  New prices: %g, %g\n", r.NewPrice0USD, r.NewPrice1USD)
				fmt.Fprintf(out, "  Impermanent loss: %.4f%%\n", r.ImpermanentLoss*100)
				fmt.Fprintf(out, "  Fees: %g %s, %g %s / %.2f USD\n", r.Fees0, r.Token0Symbol, r.Fees1, r.Token1Symbol, r.FeesUSD)
			}
			return nil
		},
	}
	return cmd
}

// parseStart accepts unix seconds or a UTC calendar date.
func parseStart(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("start %d is negative", n)
		}
		return n, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, fmt.Errorf("start %q: want unix seconds or YYYY-MM-DD", s)
	}
	return t.Unix(), nil
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
