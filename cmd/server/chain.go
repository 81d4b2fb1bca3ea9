package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/budget"
)

var (
	flagOwnerKind string
	flagOwnerRef  string
	flagCategory  string
)

var activeCmd = &cobra.Command{
	Use:   "active <account-book-id>",
	Short: "Show the budget covering a date for one chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runActive,
}

var historyCmd = &cobra.Command{
	Use:   "history <account-book-id>",
	Short: "Print a chain's cycle closings",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	for _, c := range []*cobra.Command{activeCmd, historyCmd} {
		addChainFlags(c)
		rootCmd.AddCommand(c)
	}
	activeCmd.Flags().StringVar(&flagAsOf, "as-of", "", "Date to look up, YYYY-MM-DD (default today)")
}

func addChainFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagOwnerKind, "owner-kind", string(budget.OwnerIndividual), "INDIVIDUAL, CUSTODIAL or SHARED")
	c.Flags().StringVar(&flagOwnerRef, "owner-ref", "", "User or member id (empty for SHARED)")
	c.Flags().StringVar(&flagCategory, "category", "", "Category id (empty for the whole-book budget)")
}

func chainFromFlags(accountBookID string) (budget.ChainKey, error) {
	owner, err := budget.ParseOwner(flagOwnerKind, flagOwnerRef)
	if err != nil {
		return budget.ChainKey{}, err
	}
	chain := budget.ChainKey{Owner: owner, AccountBookID: accountBookID, CategoryID: flagCategory}
	return chain, chain.Validate()
}

func runActive(cmd *cobra.Command, args []string) error {
	chain, err := chainFromFlags(args[0])
	if err != nil {
		return err
	}
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

	p, err := newEngine(cfg, store, nil, log).GetActivePeriod(cmd.Context(), chain.Owner, chain.AccountBookID, chain.CategoryID, asOf)
	if err != nil {
		return err
	}

	printKV(os.Stdout,
		"Chain", chain.String(),
		"Cycle", fmt.Sprintf("%s (%d of %d days left)", p.Budget.Cycle, p.RemainingDays, p.DaysInCycle),
		"Budget", valueStyle.Render(p.Budget.Amount.StringFixed(2)),
		"Rollover", money(p.Budget.RolloverAmount),
		"Available", valueStyle.Render(p.TotalAvailable.StringFixed(2)),
		"Spent", valueStyle.Render(p.Spent.StringFixed(2)),
		"Remaining", money(p.Remaining),
		"Used", p.UsagePercent.StringFixed(2)+"%",
	)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	chain, err := chainFromFlags(args[0])
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

	entries, summary, err := newEngine(cfg, store, nil, log).History(cmd.Context(), chain)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CycleLabel,
			string(e.EntryType),
			e.BudgetAmount.StringFixed(2),
			e.SpentAmount.StringFixed(2),
			money(e.RolloverIn),
			money(e.RolloverOut),
			string(e.Outcome),
		})
	}
	out := os.Stdout
	fmt.Fprint(out, renderTable(chain.String(),
		[]string{"Cycle", "Type", "Budget", "Spent", "In", "Out", "Outcome"}, rows))

	consistent := goodStyle.Render("yes")
	if !summary.Consistent() {
		consistent = badStyle.Render(fmt.Sprintf("no, breaks at %v", summary.Breaks))
	}
	printKV(out,
		"Transitions", fmt.Sprint(summary.Transitions),
		"Adjustments", fmt.Sprint(summary.Adjustments),
		"Budgeted", summary.TotalBudgeted.StringFixed(2),
		"Spent", summary.TotalSpent.StringFixed(2),
		"Carried now", money(summary.FinalRollover),
		"Consistent", consistent,
	)
	return nil
}
