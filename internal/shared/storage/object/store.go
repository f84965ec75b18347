package object

import (
	"context"
	"io"
)

// ObjectStore defines the contract for saving and retrieving binary blobs by key.
// Keys follow the path conventions of the pipeline (uploads/, extracted/, analysis/,
// prompts/) and are never rewritten by the store.
type ObjectStore interface {
	Save(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// ReadAll opens a stored object and returns its full contents.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// ReadText opens a stored object and returns its contents as a string.
func ReadText(ctx context.Context, store ObjectStore, key string) (string, error) {
	data, err := ReadAll(ctx, store, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
