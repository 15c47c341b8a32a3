package adapter

import (
	"context"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage reads and writes objects. Used for the quick-answer snapshot.
type Storage interface {
	Put(ctx context.Context, bucket, object string) (io.WriteCloser, error)
	Get(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

type storageClient struct {
	client *storage.Client
}

func NewStorage(ctx context.Context) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{client: client}, nil
}

func (s *storageClient) Put(ctx context.Context, bucket, object string) (io.WriteCloser, error) {
	return s.client.Bucket(bucket).Object(object).NewWriter(ctx), nil
}

func (s *storageClient) Get(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", bucket),
			goerr.V("object", object))
	}

	return reader, nil
}

// ParseGCSURL splits "gs://bucket/path/to/object". ok is false for any other form.
func ParseGCSURL(url string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(url, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}
