package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"celeri/internal/model"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile today's and tomorrow's occupancy once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.reconciler.Sync(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range results {
			line := fmt.Sprintf("%s occupied=%t", model.FormatDay(r.Day), r.Occupied)
			if r.Outcome.Err != nil {
				line += " (feed error: " + r.Outcome.Err.Error() + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var (
	rangeStart      string
	rangeEnd        string
	defaultOccupied bool
	weekendOccupied bool
)

var initRangeCmd = &cobra.Command{
	Use:   "init-range",
	Short: "Seed occupancy for every day of an inclusive date range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		start, err := model.ParseDay(rangeStart)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		end, err := model.ParseDay(rangeEnd)
		if err != nil {
			return fmt.Errorf("--end: %w", err)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.reconciler.InitRange(cmd.Context(), start, end, defaultOccupied, weekendOccupied)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d days written\n", n)
		return nil
	},
}

func init() {
	f := initRangeCmd.Flags()
	f.StringVar(&rangeStart, "start", "", "First day, YYYY-MM-DD")
	f.StringVar(&rangeEnd, "end", "", "Last day (inclusive), YYYY-MM-DD")
	f.BoolVar(&defaultOccupied, "default-occupied", false, "Occupancy for weekdays")
	f.BoolVar(&weekendOccupied, "weekend-occupied", true, "Occupancy for Saturdays and Sundays")
	_ = initRangeCmd.MarkFlagRequired("start")
	_ = initRangeCmd.MarkFlagRequired("end")
}

var checkCmd = &cobra.Command{
	Use:   "check <YYYY-MM-DD>",
	Short: "Ask the reservation feed about one day without writing anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := model.ParseDay(args[0])
		if err != nil {
			return err
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if a.reconciler.FeedURL() == "" {
			return errors.New("calendar URL is not configured")
		}
		out := a.reconciler.Check(cmd.Context(), a.reconciler.FeedURL(), day)
		if out.Err != nil {
			return fmt.Errorf("feed unavailable: %w", out.Err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reserved=%t\n", model.FormatDay(day), out.Reserved)
		return nil
	},
}
