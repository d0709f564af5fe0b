package client

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// StorageClient wraps the Google Cloud Storage client.
type StorageClient struct {
	client     *storage.Client
	bucketName string
}

// NewStorageClient creates a new storage client. Application default
// credentials are used when credentialsFile is empty.
func NewStorageClient(ctx context.Context, bucketName, credentialsFile string, opts ...option.ClientOption) (*StorageClient, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &StorageClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Close closes the client.
func (c *StorageClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// UploadObject stores an archived recording and returns its gs:// URL.
func (c *StorageClient) UploadObject(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	w := c.client.Bucket(c.bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}

	return "gs://" + c.bucketName + "/" + objectName, nil
}
