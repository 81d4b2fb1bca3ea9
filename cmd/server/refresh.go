package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/budget"
)

var flagAsOf string

var refreshCmd = &cobra.Command{
	Use:   "refresh <account-book-id>",
	Short: "Bring every budget chain of an account book up to date",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().StringVar(&flagAsOf, "as-of", "", "Date to refresh to, YYYY-MM-DD (default today)")
	rootCmd.AddCommand(refreshCmd)
}

func parseAsOfFlag() (budget.Date, error) {
	if flagAsOf == "" {
		return budget.Today(), nil
	}
	return budget.ParseDate(flagAsOf)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	asOf, err := parseAsOfFlag()
	if err != nil {
		return err
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	pub, closePub, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePub()

	res, err := newEngine(cfg, store, pub, log).EnsureBudgetsUpToDate(cmd.Context(), args[0], asOf)
	if err != nil {
		return err
	}

	out := os.Stdout
	printKV(out,
		"Account book", args[0],
		"As of", asOf.String(),
		"Created", goodStyle.Render(fmt.Sprint(len(res.CreatedBudgetIDs))),
	)
	for _, id := range res.CreatedBudgetIDs {
		fmt.Fprintf(out, "    %s\n", mutedStyle.Render(id))
	}

	if len(res.Warnings) > 0 {
		rows := make([][]string, 0, len(res.Warnings))
		for _, w := range res.Warnings {
			rows = append(rows, []string{w.Chain.String(), warnStyle.Render(w.Code), w.Message})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable("Warnings", []string{"Chain", "Code", "Message"}, rows))
	}
	if len(res.Failures) > 0 {
		rows := make([][]string, 0, len(res.Failures))
		for _, f := range res.Failures {
			retry := "no"
			if budget.IsRetryable(f.Err) {
				retry = "yes"
			}
			rows = append(rows, []string{f.Owner.String(), badStyle.Render(f.Reason), retry})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable("Failures", []string{"Owner", "Reason", "Retryable"}, rows))
		return fmt.Errorf("%d owner(s) not brought up to date: %s", len(res.Failures), failureReasons(res.Failures))
	}
	return nil
}

func failureReasons(failures []budget.OwnerFailure) string {
	seen := map[string]bool{}
	var reasons []string
	for _, f := range failures {
		if !seen[f.Reason] {
			seen[f.Reason] = true
			reasons = append(reasons, f.Reason)
		}
	}
	return strings.Join(reasons, ", ")
}
