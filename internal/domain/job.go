package domain

import (
	"fmt"
	"time"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// Terminal reports whether no further polling can change the outcome.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// GenerationJob tracks one background generation request against the
// external image service.
type GenerationJob struct {
	RecordID    string
	ID          string
	Prompt      string
	Style       string
	Width       int
	Height      int
	Status      JobStatus
	Result      []byte
	ErrorDetail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewGenerationJob returns a job in the submitted state.
func NewGenerationJob(prompt, style string, width, height int) *GenerationJob {
	now := time.Now().UTC()
	return &GenerationJob{
		Prompt:    prompt,
		Style:     style,
		Width:     width,
		Height:    height,
		Status:    JobStatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the job to next. Terminal states are final.
func (j *GenerationJob) Transition(next JobStatus) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s: already %s, cannot move to %s", j.ID, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete stores the result image and marks the job done.
func (j *GenerationJob) Complete(image []byte) error {
	if err := j.Transition(JobStatusDone); err != nil {
		return err
	}
	j.Result = image
	return nil
}

// Fail records err and moves the job to failed or timed_out depending on
// the error kind.
func (j *GenerationJob) Fail(err error) error {
	status := JobStatusFailed
	if isTimeout(err) {
		status = JobStatusTimedOut
	}
	if tErr := j.Transition(status); tErr != nil {
		return tErr
	}
	if err != nil {
		j.ErrorDetail = err.Error()
	}
	return nil
}

func isTimeout(err error) bool {
	return KindOf(err) == ErrTimeout
}
