package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cardgen/internal/bootstrap"
	"cardgen/internal/providers/prompt"
)

func newImproveCommand(ctx *commandContext) *cobra.Command {
	var locale string

	cmd := &cobra.Command{
		Use:   "improve <prompt>",
		Short: "Rewrite a background idea into an image prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd)

			services, err := bootstrap.Build(cmd.Context(), cfg, &logger, bootstrap.Options{SkipRedis: true, SkipGeoIP: true})
			if err != nil {
				return err
			}
			defer services.Close()
			if !services.Improver.Available() {
				return errors.New("prompt improvement needs GIGA_CLIENT_ID and GIGA_CLIENT_SECRET")
			}

			if locale == "" {
				locale = cfg.DefaultLocale
			}
			improved, err := services.Improver.Improve(cmd.Context(), prompt.ImproveRequest{
				Prompt: strings.Join(args, " "),
				Locale: locale,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), improved)
			return nil
		},
	}

	cmd.Flags().StringVar(&locale, "locale", "", "Answer language (en or ru)")
	return cmd
}
