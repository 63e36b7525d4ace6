package core

import (
	"context"
	"io"
)

type (
	// Document is what an instructor uploads. The content is opaque; Name only
	// contributes its extension to the storage key.
	Document struct {
		Name        string
		ContentType string
		Data        []byte
	}

	BlobStore interface {
		Upload(ctx context.Context, key string, contentType string, data []byte) error
		PublicURL(key string) string
	}

	// BlobOpener is implemented by blob stores whose objects are served by this
	// service itself rather than by a public bucket.
	BlobOpener interface {
		Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	}
)
