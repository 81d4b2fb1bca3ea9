package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logging"
)

var (
	flagDisplayName string
	flagAmount      string
	flagRefreshDay  int
	flagRollover    bool
)

var ownerCmd = &cobra.Command{
	Use:   "owner <account-book-id>",
	Short: "Register an owner eligible for budgets in an account book",
	Args:  cobra.ExactArgs(1),
	RunE:  runOwner,
}

var createCmd = &cobra.Command{
	Use:   "create <account-book-id>",
	Short: "Create the first budget of a chain",
	Long: "Create the budget covering --as-of for one chain. Later cycles are opened " +
		"by refresh and inherit its amount, refresh day and rollover setting.",
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	addChainFlags(ownerCmd)
	ownerCmd.Flags().StringVar(&flagDisplayName, "name", "", "Display name")

	addChainFlags(createCmd)
	createCmd.Flags().StringVar(&flagAsOf, "as-of", "", "A date inside the first cycle, YYYY-MM-DD (default today)")
	createCmd.Flags().StringVar(&flagAmount, "amount", "", "Base allocation per cycle")
	createCmd.Flags().IntVar(&flagRefreshDay, "refresh-day", int(budget.DefaultRefreshDay), fmt.Sprintf("Cycle start day, one of %v", budget.RefreshDays()))
	createCmd.Flags().BoolVar(&flagRollover, "rollover", true, "Carry the cycle balance into the next cycle")
	_ = createCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(ownerCmd, createCmd, migrateCmd)
}

func runOwner(cmd *cobra.Command, args []string) error {
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

	m := budget.Member{Owner: chain.Owner, DisplayName: flagDisplayName, AccountBookID: chain.AccountBookID}
	if err := store.SaveOwner(cmd.Context(), m); err != nil {
		return err
	}
	printKV(os.Stdout, "Registered", chain.Owner.String(), "Account book", chain.AccountBookID)
	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	chain, err := chainFromFlags(args[0])
	if err != nil {
		return err
	}
	asOf, err := parseAsOfFlag()
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(flagAmount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", flagAmount, err)
	}
	day, err := budget.ParseRefreshDay(flagRefreshDay)
	if err != nil {
		return err
	}
	cycle, err := budget.ComputeCycle(asOf, day)
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

	b, created, err := store.CreateIfAbsent(cmd.Context(), budget.Budget{
		Owner:           chain.Owner,
		AccountBookID:   chain.AccountBookID,
		CategoryID:      chain.CategoryID,
		Amount:          amount,
		RefreshDay:      day,
		Cycle:           cycle,
		RolloverEnabled: flagRollover,
		RolloverAmount:  decimal.Zero,
	})
	if err != nil {
		return err
	}
	if !created {
		log.Warn("budget already exists", logging.FieldChain, chain.String(), logging.FieldCycle, cycle.String(), logging.FieldBudgetID, b.ID)
	}

	printKV(os.Stdout,
		"Budget", b.ID,
		"Chain", chain.String(),
		"Cycle", b.Cycle.String(),
		"Amount", b.Amount.StringFixed(2),
		"Created", fmt.Sprint(created),
	)
	return nil
}

// runMigrate relies on openStore applying migrations on connect.
func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg, log.With(logging.FieldOperation, logging.OpMigrate))
	if err != nil {
		return err
	}
	return store.Close()
}
