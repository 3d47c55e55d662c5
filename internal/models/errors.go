package models

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCredentialsExpired  = errors.New("transport credentials expired")
	ErrMissingCredentials  = errors.New("transport credentials missing")
	ErrInvalidAnalysis     = errors.New("invalid analysis result")
	ErrInvalidAudioStatus  = errors.New("invalid audio status transition")
	ErrUnsupportedMimeType = errors.New("unsupported media type")
)
