package handlers

import (
	"errors"
	"net/http"

	"cardgen/internal/domain"
	"cardgen/internal/middleware"
)

// statusFor maps a pipeline error onto the HTTP status returned to clients.
func statusFor(err error) int {
	var de *domain.Error
	upstream := 0
	if errors.As(err, &de) {
		upstream = de.StatusCode
	}
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSafetyBlocked):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrChatAPI), errors.Is(err, domain.ErrAuth):
		if upstream >= 400 && upstream <= 599 {
			return upstream
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error", "code"}; safety blocks also carry
// "nsfw_detected": true so the client can show a dedicated message.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := "internal server error"
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.UserMessage()
	} else if kind := domain.KindOf(err); kind != nil {
		message = kind.Error()
	}
	body := map[string]any{"error": message, "code": domain.Code(err)}
	if domain.IsSafetyBlocked(err) {
		body["nsfw_detected"] = true
	}

	ev := a.Logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = a.Logger.Error()
	}
	ev.Err(err).
		Int("status", status).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("request failed")

	a.json(w, status, body)
}
