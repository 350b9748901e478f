package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore persists blobs in an Azure Blob Storage container. This is the
// production driver; FileStore and MemoryStore cover everything else.
type AzureStore struct {
	client    *azblob.Client
	container string
	baseURL   string
}

// NewAzureStore creates a store from a connection string. No network call is
// made until the first operation; use EnsureContainer at startup to verify
// connectivity.
func NewAzureStore(connectionString, container, baseURL string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create azure client: %w", err)
	}
	return &AzureStore{client: client, container: container, baseURL: baseURL}, nil
}

// EnsureContainer creates the configured container if it does not exist yet.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("storage: ensure container %s: %w", s.container, err)
	}
	return nil
}

func (s *AzureStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, cleanKey, data, opts); err != nil {
		return "", fmt.Errorf("storage: upload blob %s: %w", cleanKey, err)
	}
	return cleanKey, nil
}

func (s *AzureStore) Get(ctx context.Context, key string) (*Object, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, cleanKey, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleanKey)
		}
		return nil, fmt.Errorf("storage: download blob %s: %w", cleanKey, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read blob %s: %w", cleanKey, err)
	}
	contentType := "application/octet-stream"
	if resp.ContentType != nil && *resp.ContentType != "" {
		contentType = *resp.ContentType
	}
	return &Object{Data: data, ContentType: contentType}, nil
}

func (s *AzureStore) PublicURL(key string) string {
	return publicURL(s.baseURL, key)
}

var _ BlobStore = (*AzureStore)(nil)
