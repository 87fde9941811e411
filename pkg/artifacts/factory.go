package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// StoreType selects an artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an artifact store from environment variables.
//
// Environment variables:
//   - CORTEX_ARTIFACT_STORE: "fs" (default), "s3", or "gcs"
//   - CORTEX_DATA_DIR: base directory for the filesystem store (default "data")
//
// For S3:
//   - CORTEX_S3_BUCKET (required)
//   - CORTEX_S3_REGION or AWS_REGION
//   - CORTEX_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - CORTEX_S3_PREFIX (optional)
//   - CORTEX_S3_MAX_OPS (optional, outbound calls per second)
//
// For GCS:
//   - CORTEX_GCS_BUCKET (required)
//   - CORTEX_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("CORTEX_ARTIFACT_STORE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("artifacts: unsupported store type %q", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("CORTEX_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("CORTEX_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: CORTEX_S3_BUCKET is required for s3 storage")
	}

	region := os.Getenv("CORTEX_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	var maxOps float64
	if raw := os.Getenv("CORTEX_S3_MAX_OPS"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("artifacts: CORTEX_S3_MAX_OPS %q: %w", raw, err)
		}
		maxOps = parsed
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        os.Getenv("CORTEX_S3_ENDPOINT"),
		Prefix:          os.Getenv("CORTEX_S3_PREFIX"),
		MaxOpsPerSecond: maxOps,
	})
}
