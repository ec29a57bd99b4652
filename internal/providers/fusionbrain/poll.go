package fusionbrain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardgen/internal/domain"
)

// Upstream job states.
const (
	StatusInitial    = "INITIAL"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFail       = "FAIL"
)

type outcomeKind int

const (
	outcomePending outcomeKind = iota
	outcomeDone
	outcomeFailed
	outcomeTransient
)

func (k outcomeKind) String() string {
	switch k {
	case outcomePending:
		return "pending"
	case outcomeDone:
		return "done"
	case outcomeFailed:
		return "failed"
	default:
		return "transient"
	}
}

// attemptOutcome is the classified result of one status request.
type attemptOutcome struct {
	kind   outcomeKind
	status string
	image  []byte
	err    error
}

type statusResponse struct {
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	ErrorDescription string `json:"errorDescription"`
	Censored         bool   `json:"censored"`
	Result           struct {
		Files    []string `json:"files"`
		Censored bool     `json:"censored"`
	} `json:"result"`
}

// Poll checks the job until it finishes, fails, or maxAttempts status
// requests have been made. Non-positive arguments use the client defaults.
// Transport and decode failures are logged and count as an attempt.
func (c *Client) Poll(ctx context.Context, jobID string, maxAttempts int, delay time.Duration) ([]byte, error) {
	const op = "fusionbrain poll"
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.E(domain.ErrValidation, op, "job id is required", nil)
	}
	if maxAttempts <= 0 {
		maxAttempts = c.pollAttempts
	}
	if delay <= 0 {
		delay = c.pollDelay
	}

	log := c.logger.With().Str("job_id", jobID).Logger()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := c.checkStatus(ctx, jobID)
		log.Debug().Int("attempt", attempt).Str("outcome", out.kind.String()).Str("status", out.status).Msg("fusionbrain poll")

		switch out.kind {
		case outcomeDone:
			return out.image, nil
		case outcomeFailed:
			return nil, out.err
		case outcomeTransient:
			log.Warn().Err(out.err).Int("attempt", attempt).Msg("fusionbrain status check failed")
		}

		if attempt == maxAttempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, domain.E(domain.ErrTimeout, op, "cancelled while waiting for job", err)
		}
	}
	return nil, domain.E(domain.ErrTimeout, op,
		fmt.Sprintf("job %s not finished after %d attempts", jobID, maxAttempts), ctx.Err())
}

func (c *Client) checkStatus(ctx context.Context, jobID string) attemptOutcome {
	const op = "fusionbrain poll"
	req, err := c.newRequest(ctx, http.MethodGet, "/key/api/v1/pipeline/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return attemptOutcome{kind: outcomeTransient, err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attemptOutcome{kind: outcomeTransient, err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return attemptOutcome{kind: outcomeTransient, err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return attemptOutcome{kind: outcomeTransient, err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))}
	}
	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return attemptOutcome{kind: outcomeTransient, err: fmt.Errorf("decode status: %w", err)}
	}
	return classify(op, st)
}

// classify maps one decoded status response to an attempt outcome.
func classify(op string, st statusResponse) attemptOutcome {
	status := strings.ToUpper(strings.TrimSpace(st.Status))
	switch status {
	case StatusDone:
		if st.Censored || st.Result.Censored {
			return attemptOutcome{kind: outcomeFailed, status: status,
				err: domain.E(domain.ErrGeneration, op, "generated image was censored", nil)}
		}
		if len(st.Result.Files) == 0 || strings.TrimSpace(st.Result.Files[0]) == "" {
			return attemptOutcome{kind: outcomeFailed, status: status,
				err: domain.E(domain.ErrGeneration, op, "job finished without result files", nil)}
		}
		img, err := decodeFile(st.Result.Files[0])
		if err != nil {
			return attemptOutcome{kind: outcomeFailed, status: status,
				err: domain.E(domain.ErrGeneration, op, "result is not valid base64", err)}
		}
		return attemptOutcome{kind: outcomeDone, status: status, image: img}
	case StatusFail:
		msg := firstNonEmpty(st.ErrorDescription, "generation failed")
		return attemptOutcome{kind: outcomeFailed, status: status,
			err: domain.E(domain.ErrGeneration, op, msg, nil)}
	default:
		return attemptOutcome{kind: outcomePending, status: status}
	}
}

// decodeFile accepts plain base64 and data URLs.
func decodeFile(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.IndexByte(raw, ','); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}
