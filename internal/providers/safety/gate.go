package safety

import (
	"bytes"
	"context"
	"image"
	"strings"

	// Decoders for the formats accepted as uploads.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// DefaultUnsafeLabel is the classifier label treated as unsafe.
const DefaultUnsafeLabel = "nsfw"

// Gate decides whether an image may enter the pipeline. It fails closed:
// anything other than a clean verdict is an error or an unsafe verdict.
type Gate struct {
	classifier  Classifier
	unsafeLabel string
	logger      *infra.Logger
}

func NewGate(classifier Classifier, unsafeLabel string, logger *infra.Logger) *Gate {
	label := strings.TrimSpace(unsafeLabel)
	if label == "" {
		label = DefaultUnsafeLabel
	}
	return &Gate{classifier: classifier, unsafeLabel: label, logger: infra.LoggerOrDiscard(logger)}
}

// Check classifies img. Results are never cached.
func (g *Gate) Check(ctx context.Context, img []byte) (domain.SafetyVerdict, error) {
	const op = "safety check"
	if g == nil || g.classifier == nil {
		return domain.SafetyVerdict{}, domain.E(domain.ErrClassification, op, "classifier is not configured", nil)
	}
	if len(img) == 0 {
		return domain.SafetyVerdict{}, domain.E(domain.ErrClassification, op, "empty image", nil)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		return domain.SafetyVerdict{}, domain.E(domain.ErrClassification, op, "image cannot be decoded", err)
	}

	preds, err := g.classifier.Classify(ctx, img)
	if err != nil {
		return domain.SafetyVerdict{}, err
	}
	if len(preds) == 0 {
		return domain.SafetyVerdict{}, domain.E(domain.ErrClassification, op, "classifier returned no predictions", nil)
	}

	top := preds[0]
	for _, p := range preds[1:] {
		if p.Score > top.Score {
			top = p
		}
	}
	verdict := domain.SafetyVerdict{
		Unsafe: strings.EqualFold(strings.TrimSpace(top.Label), g.unsafeLabel),
		Label:  top.Label,
		Score:  top.Score,
	}
	g.logger.Debug().Str("label", verdict.Label).Float64("score", verdict.Score).Bool("unsafe", verdict.Unsafe).Msg("safety verdict")
	return verdict, nil
}
