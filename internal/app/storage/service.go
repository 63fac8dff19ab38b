/*
Package storage issues presigned uploads against S3-compatible object storage.

Clients upload directly to the bucket with the presigned URL; the server only
validates the request and hands out a key scoped to the caller.
*/
package storage

import (
	"context"
	"time"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	BucketName      string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// PublicBaseURL is the CDN or bucket origin objects are served from. Optional.
	PublicBaseURL string
}

// StorageService defines the public interface for the file storage service.
type StorageService interface {
	// PresignUpload generates a pre-signed URL for uploading a file.
	PresignUpload(ctx context.Context, key, mimeType string, fileSize int64, duration time.Duration) (string, error)

	// PublicURL is the address the stored object will be readable at.
	PublicURL(key string) string
}

// NewStorageService returns the S3-compatible implementation.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	return newS3Client(ctx, cfg)
}
