package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/sirupsen/logrus"
)

type blob struct {
	contentType string
	data        []byte
}

type blobStore struct {
	mu      sync.RWMutex
	blobs   map[string]blob
	baseURL string
}

// NewBlobStore keeps uploads in memory. baseURL is the prefix under which the
// blobs handler serves them, e.g. http://localhost:3002/api/blobs.
func NewBlobStore(baseURL string) *blobStore {
	return &blobStore{
		blobs:   make(map[string]blob),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *blobStore) Upload(ctx context.Context, key string, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}

	copied := make([]byte, len(data))
	copy(copied, data)

	s.mu.Lock()
	s.blobs[key] = blob{contentType: contentType, data: copied}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"key":         key,
		"data_length": len(data),
	}).Info("Blob stored successfully")
	return nil
}

func (s *blobStore) PublicURL(key string) string {
	return s.baseURL + "/" + escapeKey(key)
}

func (s *blobStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b.data)), b.contentType, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
