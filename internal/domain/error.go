package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound              = errors.New("entity not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrEmptyMessage          = errors.New("message is empty")
	ErrBusy                  = errors.New("a submission is already in flight")
	ErrRecognizerUnsupported = errors.New("speech recognition is not supported on this host")
	ErrRecognizerBusy        = errors.New("a listening session is already active")
)
