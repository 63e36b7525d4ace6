package core

import "errors"

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUploadFailed     = errors.New("upload failed")
	ErrPublishFailed    = errors.New("publish failed")
	ErrNotFound         = errors.New("not found")
	ErrFeedDisconnected = errors.New("feed disconnected")
)
