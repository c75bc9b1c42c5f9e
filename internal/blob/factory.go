package blob

import (
	"fmt"

	"cvrender/internal/config"
)

// NewStore selects the configured backend at startup.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case "local":
		return NewLocal(cfg.StorageLocalRoot)

	case "s3":
		return NewS3(S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}
