package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cardgen/internal/infra"
	"cardgen/internal/infra/credentials"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			pool, err := infra.NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := infra.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	credCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider secrets stored in the database",
	}

	credCmd.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List accepted provider names",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range credentials.Providers {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	})

	credCmd.AddCommand(&cobra.Command{
		Use:   "set <provider> [value|-]",
		Short: "Store a provider secret; reads stdin when the value is - or omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}

			value := "-"
			if len(args) == 2 {
				value = args[1]
			}
			if value == "-" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = line
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return errors.New("secret is empty")
			}

			pool, err := infra.NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			logger := ctx.logger(cmd)
			store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
			if err := store.Set(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
			return nil
		},
	})

	return credCmd
}
