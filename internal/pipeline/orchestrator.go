// Package pipeline turns a card request into a finished PNG by chaining the
// safety gate, background removal, background generation and composition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Stage names reported in domain.Error.Op when a request is aborted.
const (
	StageValidate         = "validate"
	StageStageLogo        = "stage_logo"
	StageLogoSafety       = "logo_safety"
	StageRemoveBackground = "remove_background"
	StageGenerate         = "generate_background"
	StageBackgroundSafety = "background_safety"
	StageCompose          = "compose"
)

type SafetyChecker interface {
	Check(ctx context.Context, img []byte) (domain.SafetyVerdict, error)
}

type BackgroundRemover interface {
	Remove(ctx context.Context, img []byte) ([]byte, error)
}

type BackgroundGenerator interface {
	Generate(ctx context.Context, job *domain.GenerationJob, recorder domain.JobRecorder) ([]byte, error)
}

type Composer interface {
	Compose(req domain.CompositionRequest) ([]byte, error)
	Size() (int, int)
}

// Deps lists everything the orchestrator talks to. Generator may be nil, in
// which case generate mode answers ErrUnavailable. Recorder and Archive are
// optional.
type Deps struct {
	Safety       SafetyChecker
	Remover      BackgroundRemover
	Generator    BackgroundGenerator
	Compositor   Composer
	Recorder     domain.JobRecorder
	Archive      domain.ResultArchive
	UploadFolder string
	Logger       *infra.Logger
}

type Orchestrator struct {
	deps   Deps
	logger *infra.Logger
}

func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Safety == nil:
		return nil, errors.New("pipeline: safety gate is required")
	case deps.Remover == nil:
		return nil, errors.New("pipeline: background remover is required")
	case deps.Compositor == nil:
		return nil, errors.New("pipeline: compositor is required")
	}
	if deps.UploadFolder == "" {
		deps.UploadFolder = "uploads"
	}
	if deps.Recorder == nil {
		deps.Recorder = domain.NoopRecorder{}
	}
	return &Orchestrator{deps: deps, logger: infra.LoggerOrDiscard(deps.Logger)}, nil
}

// GenerateCard runs one request end to end. The returned error is a
// *domain.Error whose Op names the stage that failed.
func (o *Orchestrator) GenerateCard(ctx context.Context, req domain.CardRequest) (*domain.CardResult, error) {
	started := time.Now()
	timings := map[string]time.Duration{}
	mark := func(stage string, since time.Time) { timings[stage] = time.Since(since) }

	if err := req.Validate(); err != nil {
		return nil, atStage(StageValidate, err)
	}
	if req.Mode == domain.ModeGenerate && o.deps.Generator == nil {
		return nil, domain.E(domain.ErrUnavailable, StageGenerate, "image generation is not configured", nil)
	}

	logo, err := stageFile(o.deps.UploadFolder, req.LogoFilename, req.Logo)
	if err != nil {
		return nil, domain.E(domain.ErrComposition, StageStageLogo, "could not stage logo", err)
	}
	defer o.release(logo)

	t := time.Now()
	logoBytes, err := logo.Read()
	if err != nil {
		return nil, domain.E(domain.ErrComposition, StageStageLogo, "could not read staged logo", err)
	}
	if err := o.checkSafe(ctx, StageLogoSafety, "logo", logoBytes); err != nil {
		return nil, err
	}
	mark(StageLogoSafety, t)

	t = time.Now()
	cutout, err := o.deps.Remover.Remove(ctx, logoBytes)
	o.release(logo)
	if err != nil {
		return nil, atStage(StageRemoveBackground, err)
	}
	mark(StageRemoveBackground, t)

	width, height := o.deps.Compositor.Size()
	var (
		background []byte
		jobID      string
	)
	t = time.Now()
	switch req.Mode {
	case domain.ModeGenerate:
		job := domain.NewGenerationJob(req.Generation.Prompt, req.Generation.Style, width, height)
		background, err = o.deps.Generator.Generate(ctx, job, o.deps.Recorder)
		if err != nil {
			return nil, atStage(StageGenerate, err)
		}
		jobID = job.ID
		mark(StageGenerate, t)
	case domain.ModeUpload:
		background = req.Background
		if err := o.checkSafe(ctx, StageBackgroundSafety, "background", background); err != nil {
			return nil, err
		}
		mark(StageBackgroundSafety, t)
	}

	t = time.Now()
	png, err := o.deps.Compositor.Compose(domain.CompositionRequest{
		Background:   background,
		Logo:         cutout,
		Placement:    req.Placement,
		CanvasWidth:  width,
		CanvasHeight: height,
	})
	if err != nil {
		return nil, atStage(StageCompose, err)
	}
	mark(StageCompose, t)

	o.archive(ctx, req.Mode, png)

	ev := o.logger.Info().
		Str("mode", string(req.Mode)).
		Str("job_id", jobID).
		Int("bytes", len(png)).
		Dur("total", time.Since(started))
	for stage, d := range timings {
		ev = ev.Dur(stage, d)
	}
	ev.Msg("card generated")

	return &domain.CardResult{PNG: png, Width: width, Height: height, JobID: jobID}, nil
}

func (o *Orchestrator) checkSafe(ctx context.Context, stage, subject string, img []byte) error {
	verdict, err := o.deps.Safety.Check(ctx, img)
	if err != nil {
		return atStage(stage, err)
	}
	if verdict.Unsafe {
		o.logger.Warn().
			Str("subject", subject).
			Str("label", verdict.Label).
			Float64("score", verdict.Score).
			Msg("unsafe content rejected")
		return domain.E(domain.ErrSafetyBlocked, stage,
			fmt.Sprintf("the uploaded %s was flagged as inappropriate", subject), nil)
	}
	return nil
}

func (o *Orchestrator) release(f *stagedFile) {
	if err := f.Release(); err != nil {
		o.logger.Warn().Err(err).Str("path", f.Path()).Msg("staged file not removed")
	}
}

func (o *Orchestrator) archive(ctx context.Context, mode domain.BackgroundMode, png []byte) {
	if o.deps.Archive == nil {
		return
	}
	key := path.Join("cards", time.Now().UTC().Format("2006/01/02"), string(mode)+"-"+uuid.NewString()+".png")
	location, err := o.deps.Archive.Save(context.WithoutCancel(ctx), key, png)
	if err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("archive card failed")
		return
	}
	o.logger.Debug().Str("location", location).Msg("card archived")
}

// stageKinds is the kind assigned to untyped errors escaping a stage.
var stageKinds = map[string]error{
	StageValidate:         domain.ErrValidation,
	StageLogoSafety:       domain.ErrClassification,
	StageRemoveBackground: domain.ErrBackgroundRemoval,
	StageGenerate:         domain.ErrGeneration,
	StageBackgroundSafety: domain.ErrClassification,
}

// atStage relabels err with the stage it escaped from, keeping its kind and
// upstream status.
func atStage(stage string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return &domain.Error{Kind: de.Kind, Op: stage, StatusCode: de.StatusCode, Message: de.Message, Err: de.Err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.E(domain.ErrTimeout, stage, "request deadline exceeded", err)
	}
	kind, ok := stageKinds[stage]
	if !ok {
		kind = domain.ErrComposition
	}
	return domain.E(kind, stage, "", err)
}
