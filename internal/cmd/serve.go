package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/server"
	"github.com/caseflow-io/caseflow/internal/trigger"
)

var (
	serveAddr          string
	serveRetentionCron string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the caseflow API server with the retention scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveRetentionCron, "retention-cron", "", "retention sweep schedule (default daily 03:00)")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> caller from CASEFLOW_API_KEYS
// (comma-separated; each entry key or key:caller).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		caller := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			caller = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = caller
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, span := tracer.Start(ctx, "serve")
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

	scheduler := trigger.NewScheduler(eng.memory)
	if err := scheduler.RegisterRetention(serveRetentionCron, eng.routing.Retention); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	apiKeys := parseAPIKeys(os.Getenv("CASEFLOW_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("api_auth_disabled")
	}

	srv := server.NewServer(eng.orch, eng.cases, eng.execLog, apiKeys,
		server.WithMemoryStore(eng.memory),
		server.WithRateLimit(float64(cfg.RateLimit)/60.0, cfg.RateLimit),
	)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server_started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
