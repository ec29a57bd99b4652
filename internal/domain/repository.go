package domain

import "context"

// JobRecorder persists generation job history. Implementations must not
// block the pipeline on failure; callers only log recorder errors.
type JobRecorder interface {
	Create(ctx context.Context, job *GenerationJob) error
	UpdateStatus(ctx context.Context, job *GenerationJob) error
}

// JobReader looks up recorded jobs.
type JobReader interface {
	GetByID(ctx context.Context, recordID string) (*GenerationJob, error)
}

// CredentialSource resolves provider secrets stored outside the environment.
type CredentialSource interface {
	Get(ctx context.Context, provider string) (string, error)
}

// ResultArchive stores composed cards for later retrieval.
type ResultArchive interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}

// NoopRecorder discards job events.
type NoopRecorder struct{}

func (NoopRecorder) Create(context.Context, *GenerationJob) error       { return nil }
func (NoopRecorder) UpdateStatus(context.Context, *GenerationJob) error { return nil }
