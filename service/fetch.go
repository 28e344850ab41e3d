package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"worker-stream/config"
	"worker-stream/entities"
)

type sourceFetcher interface {
	Fetch(ctx context.Context, objectPath, destPath string) error
}

type minioFetcher struct {
	client *minio.Client
	bucket string
}

func (f *minioFetcher) Fetch(ctx context.Context, objectPath, destPath string) error {
	return f.client.FGetObject(ctx, f.bucket, objectPath, destPath, minio.GetObjectOptions{})
}

// resolveSourceFile returns the local path of the stream's source video,
// downloading it from object storage when this worker does not have the
// file. The cleanup func removes any per-stream temp directory and is
// safe to call unconditionally.
func resolveSourceFile(ctx context.Context, cfg *config.Config, fetcher sourceFetcher, streamId uuid.UUID, video *entities.Video) (string, func(), error) {
	noop := func() {}

	if video.LocalPath != nil && *video.LocalPath != "" {
		if _, err := os.Stat(*video.LocalPath); err == nil {
			return *video.LocalPath, noop, nil
		}
	}

	if video.ObjectPath == nil || *video.ObjectPath == "" {
		return "", noop, fmt.Errorf("video %s has no resolvable source file", video.ID)
	}

	tempDir := filepath.Join(cfg.Stream.WorkDir, streamId.String())
	cleanup := func() { os.RemoveAll(tempDir) }

	inputDir := filepath.Join(tempDir, "input")
	if err := os.MkdirAll(inputDir, os.ModePerm); err != nil {
		return "", cleanup, err
	}

	destPath := filepath.Join(inputDir, filepath.Base(*video.ObjectPath))
	zerolog.Ctx(ctx).Info().
		Str("object_path", *video.ObjectPath).
		Str("dest", destPath).
		Msg("fetching source file from object storage")

	if err := fetcher.Fetch(ctx, *video.ObjectPath, destPath); err != nil {
		return "", cleanup, fmt.Errorf("failed to fetch source object %s: %w", *video.ObjectPath, err)
	}

	return destPath, cleanup, nil
}
