package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kamranmsyv/dia"
	"github.com/Kamranmsyv/dia/market"
)

func newTickerCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		steps    int
		chart    int
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "ticker",
		Short: "Animate fund prices from the catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			funds := a.client.GetFunds(cmd.Context())
			inst := instrumentsFor(funds.Data.Funds)
			if len(inst) == 0 {
				return fmt.Errorf("no priced funds in the %s catalogue", funds.Source)
			}

			var rng *rand.Rand
			if seed != 0 {
				rng = rand.New(rand.NewSource(seed)) //nolint:gosec
			}
			sim := market.NewSimulator(rng, inst...)
			if chart > 0 {
				printChart(cmd, sim, inst, chart)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if steps > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()
				left := steps
				fn := printQuotes(cmd)
				err := sim.Run(ctx, interval, func(q []market.Quote) {
					fn(q)
					if left--; left == 0 {
						cancel()
					}
				})
				return ignoreCanceled(err)
			}
			return ignoreCanceled(sim.Run(ctx, interval, printQuotes(cmd)))
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between price steps")
	cmd.Flags().IntVar(&steps, "steps", 0, "stop after this many steps, 0 to run until interrupted")
	cmd.Flags().IntVar(&chart, "chart", 0, "print a price series of this many points per fund and exit")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 for a time-based one")
	return cmd
}

func printQuotes(cmd *cobra.Command) func([]market.Quote) {
	out := cmd.OutOrStdout()
	return func(quotes []market.Quote) {
		for _, q := range quotes {
			fmt.Fprintf(out, "%-9s %10.2f %+7.2f%%\n", q.Ticker, q.Price, q.DayChange)
		}
	}
}

func printChart(cmd *cobra.Command, sim *market.Simulator, inst []market.Instrument, points int) {
	out := cmd.OutOrStdout()
	for _, in := range inst {
		fmt.Fprintf(out, "%-9s", in.Ticker)
		for _, p := range sim.Chart(in, points) {
			fmt.Fprintf(out, " %.2f", p)
		}
		fmt.Fprintln(out)
	}
}

// instrumentsFor turns catalogue entries into simulator instruments.
// Known funds keep their volatility; others get the moderate default.
// Funds without a price are skipped.
func instrumentsFor(funds []dia.Fund) []market.Instrument {
	known := make(map[string]market.Instrument)
	for _, in := range market.DefaultInstruments() {
		known[in.ID] = in
	}
	out := make([]market.Instrument, 0, len(funds))
	for _, f := range funds {
		in, ok := known[f.FundID]
		if !ok {
			in = market.Instrument{ID: f.FundID, Volatility: 0.0015, Trend: 0.001}
		}
		if f.Ticker != "" {
			in.Ticker = f.Ticker
		}
		if in.Ticker == "" {
			in.Ticker = f.FundID
		}
		if f.Price > 0 {
			in.BasePrice = f.Price
		}
		if in.BasePrice <= 0 {
			continue
		}
		out = append(out, in)
	}
	return out
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
