package prompt

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// MaxPromptRunes bounds the user idea sent to the chat model.
const MaxPromptRunes = 1000

// Completer is the chat surface the improver needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userText, model string) (string, error)
}

// Options configures an Improver.
type Options struct {
	Completer    Completer
	SystemPrompt string
	Model        string
	Logger       *infra.Logger
}

// Improver turns a short idea into a detailed image prompt.
type Improver struct {
	completer    Completer
	systemPrompt string
	model        string
	logger       *infra.Logger
}

// ImproveRequest carries the user's idea and an optional BCP 47 locale
// (typically taken from Accept-Language) for the answer language.
type ImproveRequest struct {
	Prompt string
	Locale string
}

func NewImprover(opts Options) *Improver {
	return &Improver{
		completer:    opts.Completer,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		model:        strings.TrimSpace(opts.Model),
		logger:       infra.LoggerOrDiscard(opts.Logger),
	}
}

// Available reports whether a chat backend is configured.
func (i *Improver) Available() bool {
	return i != nil && i.completer != nil
}

// Improve returns the rewritten prompt. Chat errors propagate unchanged.
func (i *Improver) Improve(ctx context.Context, req ImproveRequest) (string, error) {
	const op = "improve prompt"
	if !i.Available() {
		return "", domain.E(domain.ErrUnavailable, op, "prompt improvement is not configured", nil)
	}
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		return "", domain.E(domain.ErrValidation, op, "prompt is required", nil)
	}
	if utf8.RuneCountInString(text) > MaxPromptRunes {
		return "", domain.E(domain.ErrValidation, op, "prompt is too long", nil)
	}

	out, err := i.completer.Complete(ctx, i.buildSystemPrompt(req.Locale), text, i.model)
	if err != nil {
		i.logger.Warn().Err(err).Str("code", domain.Code(err)).Msg("prompt improvement failed")
		return "", err
	}
	improved := cleanAnswer(out)
	if improved == "" {
		return "", domain.E(domain.ErrEmptyResponse, op, "model returned an empty prompt", nil)
	}
	return improved, nil
}

func (i *Improver) buildSystemPrompt(locale string) string {
	tag := parseLocale(locale)
	if tag == language.Und {
		return i.systemPrompt
	}
	base, _ := tag.Base()
	var sb strings.Builder
	sb.WriteString(i.systemPrompt)
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("Answer in the language with ISO code \"")
	sb.WriteString(base.String())
	sb.WriteString("\".")
	return sb.String()
}

// parseLocale accepts either a single tag or a full Accept-Language header.
func parseLocale(raw string) language.Tag {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return language.Und
	}
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		return language.Und
	}
	return tags[0]
}

// cleanAnswer strips code fences and wrapping quotes models like to add.
func cleanAnswer(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], " ") {
			text = text[nl+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	for _, pair := range [][2]string{{`"`, `"`}, {"«", "»"}, {"“", "”"}, {"'", "'"}} {
		if len(text) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			text = strings.TrimSpace(text[len(pair[0]) : len(text)-len(pair[1])])
			break
		}
	}
	return text
}
