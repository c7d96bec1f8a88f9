package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/currency"
)

// withTracker runs fn against account's session and closes the runtime.
func withTracker(ctx context.Context, a *app, account string, fn func(rt *Runtime, tracker trackerOps) error) (err error) {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()

	tracker, err := rt.Tracker(ctx, account)
	if err != nil {
		return err
	}
	return fn(rt, tracker)
}

// trackerOps is the part of a tracker session the one-shot commands use.
type trackerOps interface {
	GetSummary(p core.Period) (core.Summary, error)
	Goal(p core.Period) (core.GoalProgress, error)
	RunDueRecurring(ctx context.Context) (int, error)
	ResetAllData(ctx context.Context) error
	Rates(ctx context.Context) currency.Rates
}

// parsePeriodFlag reads a month or year flag; "all" lifts the constraint.
func parsePeriodFlag(name, raw string, def int) (*int, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return &def, nil
	case strings.EqualFold(raw, "all"):
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, core.NewValidationError(name, fmt.Sprintf("invalid value %q", raw))
	}
	return &v, nil
}

func newSummaryCommand(a *app) *cobra.Command {
	var account, month, year, code string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print income, expense, balance and category breakdown for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			now := time.Now().In(loc)
			m, err := parsePeriodFlag("month", month, int(now.Month()))
			if err != nil {
				return err
			}
			y, err := parsePeriodFlag("year", year, now.Year())
			if err != nil {
				return err
			}
			p := core.Period{Month: m, Year: y}
			if err := p.Validate(); err != nil {
				return err
			}

			return withTracker(cmd.Context(), a, account, func(rt *Runtime, tracker trackerOps) error {
				return printSummary(cmd.Context(), cmd.OutOrStdout(), rt, tracker, p, code)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account to report on (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVar(&month, "month", "", "month 1-12 or 'all' (default: current month)")
	cmd.Flags().StringVar(&year, "year", "", "year or 'all' (default: current year)")
	cmd.Flags().StringVar(&code, "currency", "", "display currency (default: base currency)")

	return cmd
}

func printSummary(ctx context.Context, out io.Writer, rt *Runtime, tracker trackerOps, p core.Period, code string) error {
	table := rt.Rates.Table()
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = table.Base
	}
	if _, ok := table.Lookup(code); !ok {
		return core.NewValidationError("currency", "unsupported currency "+code)
	}

	sum, err := tracker.GetSummary(p)
	if err != nil {
		return err
	}
	goal, err := tracker.Goal(p)
	if err != nil {
		return err
	}
	rates := tracker.Rates(ctx)
	f := currency.NewFormatter(table)
	money := func(base float64) string {
		s := f.Format(base, code, rates)
		if base < 0 {
			return "-" + s
		}
		return s
	}

	fmt.Fprintf(out, "%s (%s)\n", p.Label(), code)
	if !rt.Rates.Live() {
		fmt.Fprintln(out, "Using placeholder exchange rates.")
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Income\t%s\n", money(sum.Income))
	fmt.Fprintf(w, "Expense\t%s\n", money(sum.Expense))
	fmt.Fprintf(w, "Balance\t%s\n", money(sum.Balance))
	if goal.Set {
		fmt.Fprintf(w, "Goal\t%s\t%.1f%% used, %s\n", money(goal.Goal), goal.Percentage, goal.Level())
	}
	if cats := sum.Categories(); len(cats) > 0 {
		fmt.Fprintln(w, "\t")
		for _, c := range cats {
			fmt.Fprintf(w, "%s\t%s\n", c.Name, money(c.Amount))
		}
	}
	return w.Flush()
}

func newRecurringCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring templates",
	}

	var account string
	run := &cobra.Command{
		Use:   "run",
		Short: "Post every recurring template that is due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), a, account, func(rt *Runtime, tracker trackerOps) error {
				posted, err := tracker.RunDueRecurring(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Posted %d recurring transaction(s)\n", posted)
				return err
			})
		},
	}
	run.Flags().StringVar(&account, "account", "", "account to run templates for (required)")
	_ = run.MarkFlagRequired("account")

	cmd.AddCommand(run)
	return cmd
}

func newResetCommand(a *app) *cobra.Command {
	var account string
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all transactions and templates and restore default categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			return withTracker(cmd.Context(), a, account, func(rt *Runtime, tracker trackerOps) error {
				if err := tracker.ResetAllData(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Account %s reset\n", account)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account to reset (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	return cmd
}

func newTokenCommand(a *app) *cobra.Command {
	var account string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := auth.NewManager(a.cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := m.Issue(account, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account the token identifies (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenDuration, "token lifetime")

	return cmd
}
