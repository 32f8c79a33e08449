// Package storage provides blob storage for uploaded media.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"chatterbox/internal/config"
)

// BlobStore stores uploaded objects under opaque keys.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the BlobStore selected by STORAGE_PROVIDER.
func New(cfg *config.Config) (BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageProvider)) {
	case "", "local":
		return NewLocalStore(cfg.StorageLocalDir, cfg.StoragePublicBaseURL)
	case "s3", "backblaze", "minio":
		return NewS3Store(S3Options{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			UseSSL:        cfg.S3UseSSL,
			PublicBaseURL: cfg.StoragePublicBaseURL,
		})
	case "azure":
		return NewAzureStore(AzureOptions{
			Account:       cfg.AzureStorageAccount,
			Key:           cfg.AzureStorageKey,
			Container:     cfg.AzureStorageContainer,
			ServiceURL:    cfg.AzureStorageURL,
			PublicBaseURL: cfg.StoragePublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
