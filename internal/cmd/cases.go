package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/ticket"
)

var (
	casesStatus string
	casesLimit  int
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Inspect and update escalation cases",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases, newest first",
	RunE:  casesList,
}

var casesShowCmd = &cobra.Command{
	Use:   "show [case-id]",
	Short: "Show one case",
	Args:  cobra.ExactArgs(1),
	RunE:  casesShow,
}

var casesStatusCmd = &cobra.Command{
	Use:   "status [case-id] [status]",
	Short: "Move a case to a new status (open, in_progress, resolved, closed)",
	Args:  cobra.ExactArgs(2),
	RunE:  casesSetStatus,
}

func init() {
	casesListCmd.Flags().StringVar(&casesStatus, "status", "", "filter by status")
	casesListCmd.Flags().IntVar(&casesLimit, "limit", 20, "maximum cases to list")
	casesCmd.AddCommand(casesListCmd)
	casesCmd.AddCommand(casesShowCmd)
	casesCmd.AddCommand(casesStatusCmd)
	rootCmd.AddCommand(casesCmd)
}

func openCaseStore() (*ticket.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return ticket.NewStore(cfg.CasesDBPath())
}

func casesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openCaseStore()
	if err != nil {
		return fmt.Errorf("opening case store: %w", err)
	}
	defer store.Close()

	cases, err := store.List(ctx, casesStatus, casesLimit)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Println("No cases.")
		return nil
	}
	for _, c := range cases {
		fmt.Printf("%s  %-12s %-18s %-4s %s\n",
			c.CaseID, c.Status, c.Reason, c.Priority, c.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func casesShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openCaseStore()
	if err != nil {
		return fmt.Errorf("opening case store: %w", err)
	}
	defer store.Close()

	c, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Case:     %s\n", c.CaseID)
	fmt.Printf("Session:  %s\n", c.SessionID)
	fmt.Printf("User:     %s\n", c.UserID)
	fmt.Printf("Status:   %s\n", c.Status)
	fmt.Printf("Priority: %s\n", c.Priority)
	fmt.Printf("Reason:   %s\n", c.Reason)
	fmt.Printf("Created:  %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", c.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("\n%s\n", c.QueryText)
	return nil
}

func casesSetStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openCaseStore()
	if err != nil {
		return fmt.Errorf("opening case store: %w", err)
	}
	defer store.Close()

	if err := store.UpdateStatus(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Case %s moved to %s\n", args[0], args[1])
	return nil
}
