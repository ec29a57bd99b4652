package fusionbrain

import (
	"context"

	"cardgen/internal/domain"
)

// Generate runs discovery, submission and polling for job, moving it through
// its lifecycle. recorder may be nil; its failures are logged, not returned.
func (c *Client) Generate(ctx context.Context, job *domain.GenerationJob, recorder domain.JobRecorder) ([]byte, error) {
	if recorder == nil {
		recorder = domain.NoopRecorder{}
	}
	if err := recorder.Create(ctx, job); err != nil {
		c.logger.Warn().Err(err).Msg("record job create failed")
	}

	jobID, err := c.Submit(ctx, job.Prompt, job.Style, job.Width, job.Height)
	if err != nil {
		c.finish(ctx, job, recorder, nil, err)
		return nil, err
	}
	job.ID = jobID
	c.record(ctx, job, recorder, domain.JobStatusProcessing)

	img, err := c.Poll(ctx, jobID, 0, 0)
	c.finish(ctx, job, recorder, img, err)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (c *Client) record(ctx context.Context, job *domain.GenerationJob, recorder domain.JobRecorder, status domain.JobStatus) {
	if err := job.Transition(status); err != nil {
		c.logger.Warn().Err(err).Msg("job transition rejected")
		return
	}
	if err := recorder.UpdateStatus(context.WithoutCancel(ctx), job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("record job status failed")
	}
}

func (c *Client) finish(ctx context.Context, job *domain.GenerationJob, recorder domain.JobRecorder, img []byte, genErr error) {
	var err error
	if genErr != nil {
		err = job.Fail(genErr)
	} else {
		err = job.Complete(img)
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("job transition rejected")
		return
	}
	if err := recorder.UpdateStatus(context.WithoutCancel(ctx), job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("record job status failed")
	}
}
