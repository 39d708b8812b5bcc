package feed

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingType means the document has no top-level type.
	ErrMissingType = errors.New("feed is missing its type")
	// ErrMissingProperties means the collection has no properties object.
	ErrMissingProperties = errors.New("feature collection is missing its properties")
	// ErrNoFeature means the collection has no features array.
	ErrNoFeature = errors.New("feature collection has no features")
	// ErrInvalidDocument means the payload is not a JSON object.
	ErrInvalidDocument = errors.New("feed is not a JSON object")
	// ErrEmptyArchive means a seed archive holds no feed documents.
	ErrEmptyArchive = errors.New("archive contains no feed documents")
)

// WrongTypeError is returned when the top-level type is not FeatureCollection.
type WrongTypeError struct {
	Type string
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("feed type is %q, expected FeatureCollection", e.Type)
}

// BackendError carries the errors array reported by the backend.
type BackendError struct {
	Messages []string
}

func (e *BackendError) Error() string {
	return "backend reported errors: " + strings.Join(e.Messages, "; ")
}

// WrongFencesError reports that Count features were rejected while the rest
// of the batch was applied.
type WrongFencesError struct {
	Count int
}

func (e *WrongFencesError) Error() string {
	return fmt.Sprintf("%d malformed geofences skipped", e.Count)
}

// IsFatal reports whether err rejects the whole batch. A WrongFencesError
// is not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var wrong *WrongFencesError
	return !errors.As(err, &wrong)
}
