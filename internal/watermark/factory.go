package watermark

import (
	"context"
	"fmt"
	"path/filepath"

	"detectedits-go/internal/config"
	"detectedits-go/internal/detect"
)

// Store is a detect.WatermarkStore that can also forget a layer and release
// its resources.
type Store interface {
	detect.WatermarkStore

	// Delete removes the watermark for a layer. Deleting a missing entry is
	// not an error.
	Delete(ctx context.Context, layerID int) error

	Close() error
}

// NewStoreFromConfig creates a Store based on the watermark config type.
// A relative lasteditfile is resolved against baseDir.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, baseDir string) (Store, error) {
	switch cfg.Watermark.Type {
	case "", "file":
		path := cfg.Filenames.LastEditFile
		if path == "" {
			return nil, fmt.Errorf("file watermark store requires filenames.lasteditfile to be set")
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return NewFileStore(path)
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.Watermark.S3Bucket,
			Key:             cfg.Watermark.S3Key,
			Region:          cfg.Watermark.S3Region,
			Endpoint:        cfg.Watermark.S3Endpoint,
			AccessKeyID:     cfg.Watermark.S3AccessKeyID,
			SecretAccessKey: cfg.Watermark.S3SecretAccessKey,
		})
	case "postgres":
		if cfg.Watermark.DSN == "" {
			return nil, fmt.Errorf("postgres watermark store requires dsn to be set")
		}
		return NewPostgresStore(ctx, cfg.Watermark.DSN)
	default:
		return nil, fmt.Errorf("unknown watermark store type: %s", cfg.Watermark.Type)
	}
}
