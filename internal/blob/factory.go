package blob

import (
	"context"
	"fmt"

	"entityfiler/internal/blob/core"
	"entityfiler/internal/infra/blob/fs"
	"entityfiler/internal/infra/blob/memory"
	"entityfiler/internal/infra/blob/s3"
)

// S3Config configures the s3 driver.
type S3Config = s3.Config

// Config selects a backend. Driver is fs (default), s3 or memory.
type Config struct {
	Driver string   `yaml:"driver" env:"DRIVER"`
	Root   string   `yaml:"root" env:"FS_ROOT"`
	S3     S3Config `yaml:"s3"`
}

// Open builds the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch core.Driver(cfg.Driver) {
	case "", core.DriverFilesystem:
		return fs.New(cfg.Root)
	case core.DriverS3:
		return s3.New(ctx, cfg.S3)
	case core.DriverMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}
