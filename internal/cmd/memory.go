package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/trigger"
)

var (
	memorySearchUser  string
	memorySearchLimit int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the memory tiers",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search episodic memory for past incidents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  memorySearch,
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one retention sweep over the durable tiers now",
	RunE:  memoryPrune,
}

func init() {
	memorySearchCmd.Flags().StringVar(&memorySearchUser, "user", "", "scope to a user (plus globally shared incidents)")
	memorySearchCmd.Flags().IntVar(&memorySearchLimit, "limit", 10, "maximum incidents to list")
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryPruneCmd)
	rootCmd.AddCommand(memoryCmd)
}

func openMemoryStore() (*memory.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	store, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func memorySearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, _, err := openMemoryStore()
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer store.Close()

	incidents, err := store.SearchEpisodic(ctx, strings.Join(args, " "), memorySearchUser, memorySearchLimit)
	if err != nil {
		return err
	}
	if len(incidents) == 0 {
		fmt.Println("No matching incidents.")
		return nil
	}
	for _, inc := range incidents {
		fmt.Printf("%s  %-10s %s\n", inc.IncidentID, inc.Outcome, inc.QueryText)
		if inc.Resolution != "" {
			fmt.Printf("    -> %s\n", inc.Resolution)
		}
	}
	return nil
}

func memoryPrune(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	store, cfg, err := openMemoryStore()
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer store.Close()

	routing, err := loadRouting(cfg)
	if err != nil {
		return err
	}

	trigger.NewScheduler(store).Sweep(ctx, routing.Retention)
	return nil
}
