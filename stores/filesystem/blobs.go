package filesystem

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/sirupsen/logrus"
)

type blobStore struct {
	basePath string
	baseURL  string
}

// NewBlobStore writes uploads below basePath and hands out urls below baseURL.
func NewBlobStore(basePath, baseURL string) (*blobStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &blobStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// resolve maps key to a file below basePath and refuses anything escaping it.
func (s *blobStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key is required")
	}

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid blob key %q: access denied", key)
	}
	return absFile, nil
}

func (s *blobStore) Upload(ctx context.Context, key string, contentType string, data []byte) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"key":       key,
		"file_path": filePath,
	})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create blob directory")
		return err
	}

	// Write to a temp file first so readers never see a partial document.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		log.WithError(err).Error("Failed to create temp file")
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to write blob")
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to move blob into place")
		return err
	}

	log.WithField("data_length", len(data)).Info("Blob stored successfully")
	return nil
}

func (s *blobStore) PublicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}

func (s *blobStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		logrus.WithError(err).WithField("key", key).Error("Failed to open blob")
		return nil, "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}
