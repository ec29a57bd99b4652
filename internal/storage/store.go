// Package storage archives composed cards on disk or in S3.
package storage

import (
	"context"
	"fmt"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// FromConfig returns the archive selected by RESULT_STORE, or nil when
// archiving is off.
func FromConfig(ctx context.Context, cfg *infra.Config) (domain.ResultArchive, error) {
	switch cfg.ResultStore {
	case "", infra.ResultStoreNone:
		return nil, nil
	case infra.ResultStoreFS:
		fs, err := NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case infra.ResultStoreS3:
		s3, err := NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("storage: unknown result store %q", cfg.ResultStore)
	}
}
