package main

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cardgen/internal/infra"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *infra.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*infra.Config, error) {
	c.configOnce.Do(func() {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			if err := os.Setenv("CONFIG_FILE", path); err != nil {
				c.configErr = err
				return
			}
		}
		c.config, c.configErr = infra.LoadConfig()
	})
	return c.config, c.configErr
}

// logger writes human-readable lines to stderr so stdout stays usable for
// command output.
func (c *commandContext) logger(cmd *cobra.Command) infra.Logger {
	level := zerolog.WarnLevel
	if *c.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool
	ctx := &commandContext{configFlag: &configFlag, verbose: &verbose}

	rootCmd := &cobra.Command{
		Use:           "cardctl",
		Short:         "Promotional card generator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(newComposeCommand(ctx))
	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newImproveCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newCredentialsCommand(ctx))

	return rootCmd
}
