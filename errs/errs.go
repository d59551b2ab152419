package errs

import (
	"errors"
)

var (
	// ErrCipherFailed matches every structured error returned by the cipher engine.
	ErrCipherFailed = errors.New("cipher failed")
	// ErrRateLimited indicates throttling or rate limiting by the remote service.
	ErrRateLimited = errors.New("rate limited")
	// ErrPlayerNotFound indicates that a page carries no player release id or script URL.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrInvalidURL indicates that a video URL could not be parsed into an identifier.
	ErrInvalidURL = errors.New("invalid video url")
)
