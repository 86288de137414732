package main

import (
	"fmt"
	"time"

	"faultgate/internal/credential"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Acquire a platform credential and print its status",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	store := credential.New(credential.Config{
		BaseURL:        cfg.Platform.BaseURL,
		Username:       cfg.Platform.Username,
		Password:       cfg.Platform.Password,
		RequestTimeout: cfg.Platform.RequestTimeout.Std(),
	}, credential.WithLogger(logger))

	if err := store.AcquireInitial(cmd.Context()); err != nil {
		return err
	}

	cred, _ := store.Snapshot()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "valid:      %t\n", store.IsValid())
	fmt.Fprintf(out, "token_type: %s\n", cred.TokenType)
	fmt.Fprintf(out, "expires_at: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	return nil
}
