package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureOptions configures an Azure Blob Storage container.
type AzureOptions struct {
	Account       string
	Key           string
	Container     string
	ServiceURL    string
	PublicBaseURL string
}

// AzureStore implements BlobStore for Azure Blob Storage.
type AzureStore struct {
	client    *azblob.Client
	container string
	baseURL   string
}

// NewAzureStore authenticates with the shared key and ensures the container exists.
func NewAzureStore(opts AzureOptions) (*AzureStore, error) {
	cred, err := azblob.NewSharedKeyCredential(opts.Account, opts.Key)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	serviceURL := azureServiceURL(opts)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("init azure client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.CreateContainer(ctx, opts.Container, nil); err != nil &&
		!bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("create container: %w", err)
	}
	return &AzureStore{client: client, container: opts.Container, baseURL: azureBaseURL(opts)}, nil
}

func azureServiceURL(opts AzureOptions) string {
	if opts.ServiceURL != "" {
		return opts.ServiceURL
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", opts.Account)
}

func azureBaseURL(opts AzureOptions) string {
	if opts.PublicBaseURL != "" {
		return opts.PublicBaseURL
	}
	return joinURL(azureServiceURL(opts), opts.Container)
}

// Put uploads an object as a block blob.
func (s *AzureStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	_, err := s.client.UploadStream(ctx, s.container, key, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload blob: %w", err)
	}
	return nil
}

// Delete removes an object. Missing blobs are not an error.
func (s *AzureStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *AzureStore) URL(key string) string {
	return joinURL(s.baseURL, key)
}
