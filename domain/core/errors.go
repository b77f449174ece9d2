package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	ErrNotFound        = errors.New("resource not found")
	ErrFeatureNotFound = fmt.Errorf("%w: feature", ErrNotFound)
	ErrSampleNotFound  = fmt.Errorf("%w: sample", ErrNotFound)

	ErrDuplicateSample  = errors.New("duplicate sample identifier")
	ErrDuplicateFeature = errors.New("duplicate feature identifier")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrNegativeDuration = errors.New("negative survival duration")
	ErrMissingValue     = errors.New("missing value")
)

// NewNotFoundError wraps ErrNotFound with the resource and its identifier
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// IsNotFoundError reports whether err is a not-found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
