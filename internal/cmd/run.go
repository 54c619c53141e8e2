package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/orchestrator"
)

var (
	runSessionID string
	runUserID    string
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run [request text]",
	Short: "Process one support request end to end and print the outcome",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRequest,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id (generated when empty)")
	runCmd.Flags().StringVar(&runUserID, "user", "", "user id")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full response as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	ctx, span := tracer.Start(ctx, "run")
	defer span.End()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	resp, err := eng.orch.Handle(ctx, orchestrator.Request{
		SessionID: runSessionID,
		UserID:    runUserID,
		Text:      strings.Join(args, " "),
	})
	if err != nil {
		return fmt.Errorf("handling request: %w", err)
	}

	// The memory and observability writes are asynchronous; a one-shot
	// process must wait or they are lost with the process.
	if resp.AsyncDone != nil {
		select {
		case <-resp.AsyncDone:
		case <-time.After(30 * time.Second):
		}
	}

	if runJSON {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	fmt.Printf("Session:    %s\n", resp.SessionID)
	fmt.Printf("Outcome:    %s\n", resp.Outcome)
	if resp.Reason != "" {
		fmt.Printf("Reason:     %s\n", resp.Reason)
	}
	fmt.Printf("Confidence: %.2f\n", resp.Confidence)
	if resp.CaseID != "" {
		fmt.Printf("Case:       %s\n", resp.CaseID)
	}
	fmt.Printf("\n%s\n", resp.Reply)
	return nil
}
