package storage

import "errors"

var (
	// ErrNotFound is returned when a requested event or detection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a key is written twice. Events and
	// detections are append-only.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for records missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)
