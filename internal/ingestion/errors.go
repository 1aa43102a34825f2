package ingestion

import (
	"errors"
	"fmt"
)

// Loader errors. File errors and data errors are kept apart so callers can map
// them to different exit codes.
var (
	// ErrFileNotFound is returned when the input file does not exist.
	ErrFileNotFound = errors.New("input file not found")

	// ErrMalformedCSV is returned when the input cannot be parsed as CSV.
	ErrMalformedCSV = errors.New("malformed csv")

	ErrMissingColumns   = errors.New("missing columns")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidSide      = errors.New("invalid side")
	ErrInvalidEventType = errors.New("invalid event_type")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidPrice     = errors.New("invalid price")
)

// DataError reports a validation failure at a CSV line (1-based, header is line 1).
type DataError struct {
	Line  int
	Err   error
	Value string
}

func (e *DataError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Value)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// IsDataError reports whether err is a content validation failure rather than
// a file access failure.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}
