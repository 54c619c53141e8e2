package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted secrets vault",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Store an encrypted secret",
	Args:  cobra.ExactArgs(2),
	RunE:  secretsSet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret names (values are never shown)",
	RunE:  secretsList,
}

var secretsRotateCmd = &cobra.Command{
	Use:   "rotate [name]",
	Short: "Re-encrypt a secret with a fresh nonce",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsRotate,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsDelete,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsRotateCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}

func openVault() (*secrets.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	if cfg.UsingDefaultSecretsKey() {
		log.Warn().Msg("secrets_key_defaulted")
	}
	return secrets.NewVault(cfg.SecretsDBPath(), cfg.SecretsKey)
}

func secretsSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.Set(ctx, args[0], []byte(args[1])); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	fmt.Printf("Stored secret %q\n", args[0])
	return nil
}

func secretsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	names, err := vault.List(ctx)
	if err != nil {
		return fmt.Errorf("listing secrets: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func secretsRotate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.Rotate(ctx, args[0]); err != nil {
		return fmt.Errorf("rotating secret: %w", err)
	}
	fmt.Printf("Rotated secret %q\n", args[0])
	return nil
}

func secretsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	fmt.Printf("Deleted secret %q\n", args[0])
	return nil
}
