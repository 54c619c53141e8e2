package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/memory"
	"github.com/caseflow-io/caseflow/internal/policy"
	"github.com/caseflow-io/caseflow/internal/secrets"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and runtime health",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}

// checkResult is a single doctor check outcome.
type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// doctorReport is the complete doctor output.
type doctorReport struct {
	Status string        `json:"status"` // worst of all checks
	Checks []checkResult `json:"checks"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	report := buildDoctorReport(ctx)

	if doctorJSON {
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			marker := map[string]string{"pass": "ok", "warn": "!!", "fail": "XX"}[c.Status]
			fmt.Printf("[%s] %-20s %s\n", marker, c.Name, c.Message)
			if c.Fix != "" && c.Status != "pass" {
				fmt.Printf("     fix: %s\n", c.Fix)
			}
		}
		fmt.Printf("\nOverall: %s\n", report.Status)
	}

	if report.Status == "fail" {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}

func buildDoctorReport(ctx context.Context) *doctorReport {
	report := &doctorReport{Status: "pass"}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, checkResult{
			Name: "config_load", Status: "fail",
			Message: fmt.Sprintf("cannot load config: %v", err),
			Fix:     "check CASEFLOW_* environment and caseflow.config.yaml",
		})
		report.Status = "fail"
		return report
	}

	report.Checks = append(report.Checks,
		checkDataDir(cfg),
		checkRoutingPolicy(cfg),
		checkMemoryDB(ctx, cfg),
		checkVault(cfg),
		checkProvider(ctx, cfg),
	)

	for _, c := range report.Checks {
		switch {
		case c.Status == "fail":
			report.Status = "fail"
		case c.Status == "warn" && report.Status == "pass":
			report.Status = "warn"
		}
	}
	return report
}

func checkDataDir(cfg *config.Config) checkResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return checkResult{
			Name: "data_dir", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "ensure the directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return checkResult{
			Name: "data_dir", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return checkResult{Name: "data_dir", Status: "pass", Message: cfg.DataDir + " (writable)"}
}

func checkRoutingPolicy(cfg *config.Config) checkResult {
	if _, err := os.Stat(cfg.RoutingPolicy); os.IsNotExist(err) {
		return checkResult{
			Name: "routing_policy", Status: "warn",
			Message: fmt.Sprintf("%s absent; running on the built-in default policy", cfg.RoutingPolicy),
			Fix:     "write a routing policy to pin thresholds and category rules",
		}
	}
	if _, err := policy.Load(cfg.RoutingPolicy); err != nil {
		return checkResult{
			Name: "routing_policy", Status: "fail",
			Message: err.Error(),
			Fix:     "fix the routing policy YAML; it must pass schema validation",
		}
	}
	return checkResult{Name: "routing_policy", Status: "pass", Message: cfg.RoutingPolicy}
}

func checkMemoryDB(ctx context.Context, cfg *config.Config) checkResult {
	store, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		return checkResult{
			Name: "memory_db", Status: "fail",
			Message: err.Error(),
			Fix:     "remove or repair " + cfg.MemoryDBPath(),
		}
	}
	defer store.Close()
	if _, err := store.SearchEpisodic(ctx, "doctor probe", "", 1); err != nil {
		return checkResult{Name: "memory_db", Status: "fail", Message: err.Error()}
	}
	return checkResult{Name: "memory_db", Status: "pass", Message: cfg.MemoryDBPath()}
}

func checkVault(cfg *config.Config) checkResult {
	vault, err := secrets.NewVault(cfg.SecretsDBPath(), cfg.SecretsKey)
	if err != nil {
		return checkResult{
			Name: "secrets_vault", Status: "fail",
			Message: err.Error(),
			Fix:     "set CASEFLOW_SECRETS_KEY to 32 bytes or 64 hex characters",
		}
	}
	_ = vault.Close()
	if cfg.UsingDefaultSecretsKey() {
		return checkResult{
			Name: "secrets_vault", Status: "warn",
			Message: "vault key is the derived per-machine default",
			Fix:     "set CASEFLOW_SECRETS_KEY explicitly for production",
		}
	}
	return checkResult{Name: "secrets_vault", Status: "pass", Message: cfg.SecretsDBPath()}
}

func checkProvider(ctx context.Context, cfg *config.Config) checkResult {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return checkResult{Name: "model_provider", Status: "pass", Message: "openai (key in environment)"}
	}
	if cfg.OllamaBaseURL == "" {
		return checkResult{
			Name: "model_provider", Status: "warn",
			Message: "no provider configured; model-backed agents run heuristics",
			Fix:     "store openai_api_key in the vault or run a local Ollama",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.OllamaBaseURL+"/api/tags", nil)
	if err != nil {
		return checkResult{Name: "model_provider", Status: "warn", Message: err.Error()}
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return checkResult{
			Name: "model_provider", Status: "warn",
			Message: fmt.Sprintf("ollama unreachable at %s", cfg.OllamaBaseURL),
			Fix:     "start Ollama or store openai_api_key in the vault",
		}
	}
	resp.Body.Close()
	return checkResult{Name: "model_provider", Status: "pass", Message: "ollama at " + cfg.OllamaBaseURL}
}
