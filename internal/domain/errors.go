package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure surfaced by the card pipeline carries exactly one
// of these so callers can branch with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrSafetyBlocked     = errors.New("blocked content")
	ErrAuth              = errors.New("auth error")
	ErrNetwork           = errors.New("network error")
	ErrChatAPI           = errors.New("chat api error")
	ErrEmptyResponse     = errors.New("empty response")
	ErrSubmission        = errors.New("submission error")
	ErrGeneration        = errors.New("generation error")
	ErrTimeout           = errors.New("timeout")
	ErrClassification    = errors.New("classification error")
	ErrComposition       = errors.New("composition error")
	ErrBackgroundRemoval = errors.New("background removal error")
	ErrUnavailable       = errors.New("service unavailable")
	ErrNotFound          = errors.New("not found")
)

var kindCodes = map[error]string{
	ErrValidation:        "validation",
	ErrSafetyBlocked:     "safety_blocked",
	ErrAuth:              "auth",
	ErrNetwork:           "network",
	ErrChatAPI:           "chat_api",
	ErrEmptyResponse:     "empty_response",
	ErrSubmission:        "submission",
	ErrGeneration:        "generation",
	ErrTimeout:           "timeout",
	ErrClassification:    "classification",
	ErrComposition:       "composition",
	ErrBackgroundRemoval: "background_removal",
	ErrUnavailable:       "unavailable",
	ErrNotFound:          "not_found",
}

// Error is the typed failure carried through the pipeline. It unwraps to both
// its Kind and the underlying cause.
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Message    string
	Err        error
}

// E builds an *Error of the given kind.
func E(kind error, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// WithStatus records the upstream HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Kind != nil {
		sb.WriteString(e.Kind.Error())
	} else {
		sb.WriteString("error")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		sb.WriteString(": ")
		sb.WriteString(msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// UserMessage returns the human-readable message without internal detail.
func (e *Error) UserMessage() string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "internal error"
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind != nil {
		return typed.Kind
	}
	for kind := range kindCodes {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code maps err to a stable machine-readable code such as "safety_blocked".
func Code(err error) string {
	if code, ok := kindCodes[KindOf(err)]; ok {
		return code
	}
	return "internal"
}

// IsSafetyBlocked reports whether err is a content-safety block.
func IsSafetyBlocked(err error) bool {
	return errors.Is(err, ErrSafetyBlocked)
}
