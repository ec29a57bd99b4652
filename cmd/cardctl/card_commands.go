package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cardgen/internal/bootstrap"
	"cardgen/internal/compose"
	"cardgen/internal/domain"
)

func addPlacementFlags(cmd *cobra.Command, p *domain.Placement) {
	def := domain.DefaultPlacement()
	cmd.Flags().Float64Var(&p.CenterX, "x", def.CenterX, "Logo centre as a fraction of the card width")
	cmd.Flags().Float64Var(&p.CenterY, "y", def.CenterY, "Logo centre as a fraction of the card height")
	cmd.Flags().Float64Var(&p.Scale, "scale", def.Scale, "Logo width relative to a quarter of the card width")
}

// newComposeCommand renders a card from local files only. No classifier or
// background removal runs, so the logo must already be transparent.
func newComposeCommand(ctx *commandContext) *cobra.Command {
	var logoPath, backgroundPath, outPath string
	var placement domain.Placement

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a card from a local logo and background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd)

			logo, err := os.ReadFile(logoPath)
			if err != nil {
				return fmt.Errorf("read logo: %w", err)
			}
			background, err := os.ReadFile(backgroundPath)
			if err != nil {
				return fmt.Errorf("read background: %w", err)
			}

			overlay, err := compose.LoadOverlay(cfg.CardTemplatePath, cfg.TargetWidth, cfg.TargetHeight)
			if err != nil {
				return fmt.Errorf("load card template: %w", err)
			}
			compositor, err := compose.New(compose.Options{
				Width:        cfg.TargetWidth,
				Height:       cfg.TargetHeight,
				Autocontrast: cfg.BGAutocontrast,
				Overlay:      overlay,
				Logger:       &logger,
			})
			if err != nil {
				return err
			}
			card, err := compositor.Compose(domain.CompositionRequest{
				Background:   background,
				Logo:         logo,
				Placement:    placement,
				CanvasWidth:  cfg.TargetWidth,
				CanvasHeight: cfg.TargetHeight,
			})
			if err != nil {
				return err
			}
			return writeCard(cmd, outPath, card)
		},
	}

	cmd.Flags().StringVar(&logoPath, "logo", "", "Transparent PNG logo")
	cmd.Flags().StringVar(&backgroundPath, "background", "", "Background image")
	cmd.Flags().StringVarP(&outPath, "out", "o", "card.png", "Output PNG path")
	addPlacementFlags(cmd, &placement)
	_ = cmd.MarkFlagRequired("logo")
	_ = cmd.MarkFlagRequired("background")
	return cmd
}

// newGenerateCommand runs the full pipeline against the configured services.
func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var logoPath, backgroundPath, outPath, mode, prompt, style string
	var placement domain.Placement

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a card through the safety, rembg and image services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd)

			req := domain.CardRequest{
				Generation: domain.GenerationParams{Prompt: strings.TrimSpace(prompt), Style: strings.TrimSpace(style)},
				Placement:  placement,
			}
			if req.Mode, err = domain.ParseMode(mode); err != nil {
				return err
			}
			if req.Logo, err = os.ReadFile(logoPath); err != nil {
				return fmt.Errorf("read logo: %w", err)
			}
			req.LogoFilename = logoPath
			if req.Mode == domain.ModeUpload && backgroundPath != "" {
				if req.Background, err = os.ReadFile(backgroundPath); err != nil {
					return fmt.Errorf("read background: %w", err)
				}
			}

			services, err := bootstrap.Build(cmd.Context(), cfg, &logger, bootstrap.Options{SkipRedis: true, SkipGeoIP: true})
			if err != nil {
				return err
			}
			defer services.Close()
			if services.Orchestrator == nil {
				return errors.New("card generation needs NSFW_CLASSIFIER_URL and REMBG_URL")
			}

			res, err := services.Orchestrator.GenerateCard(cmd.Context(), req)
			if err != nil {
				return err
			}
			if res.JobID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "job %s\n", res.JobID)
			}
			return writeCard(cmd, outPath, res.PNG)
		},
	}

	cmd.Flags().StringVar(&logoPath, "logo", "", "Logo image")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeGenerate), "Background source: generate or upload")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Background prompt (generate mode)")
	cmd.Flags().StringVar(&style, "style", "", "Image style (generate mode)")
	cmd.Flags().StringVar(&backgroundPath, "background", "", "Background image (upload mode)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "card.png", "Output PNG path")
	addPlacementFlags(cmd, &placement)
	_ = cmd.MarkFlagRequired("logo")
	return cmd
}

func writeCard(cmd *cobra.Command, path string, png []byte) error {
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write card: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(png))
	return nil
}
