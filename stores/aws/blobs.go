package aws

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// putObjectAPI is the part of the s3 client the store needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Store struct {
	s3Client putObjectAPI
	bucket   string
	baseURL  string
}

// NewBlobStore creates an S3-backed blob store using the default credential
// chain. publicBaseURL overrides the virtual-hosted bucket url, which is
// needed for CDNs and S3-compatible services.
func NewBlobStore(ctx context.Context, bucketName, publicBaseURL string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucketName, cfg.Region)
	}

	return newStore(s3.NewFromConfig(cfg), bucketName, publicBaseURL), nil
}

func newStore(client putObjectAPI, bucketName, publicBaseURL string) *s3Store {
	return &s3Store{
		s3Client: client,
		bucket:   bucketName,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *s3Store) Upload(ctx context.Context, key string, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"bucket": s.bucket,
			"key":    key,
		}).Error("Failed to upload blob")
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket":      s.bucket,
		"key":         key,
		"data_length": len(data),
	}).Info("Blob uploaded successfully")
	return nil
}

func (s *s3Store) PublicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}
