package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError represents a structured application error.
// Feature, Candidate and Fold carry the identifying context needed to
// reproduce a failure; Candidate is -1 when not applicable.
type AppError struct {
	Code      string
	Message   string
	Cause     error
	Feature   string
	Candidate int
	Fold      string
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if ctx := e.contextString(); ctx != "" {
		b.WriteString(" [")
		b.WriteString(ctx)
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) contextString() string {
	parts := make([]string, 0, 3)
	if e.Feature != "" {
		parts = append(parts, "feature="+e.Feature)
	}
	if e.Candidate >= 0 {
		parts = append(parts, fmt.Sprintf("candidate=%d", e.Candidate))
	}
	if e.Fold != "" {
		parts = append(parts, "fold="+e.Fold)
	}
	return strings.Join(parts, " ")
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// ForFeature returns a copy of the error tagged with a feature
func (e *AppError) ForFeature(feature string) *AppError {
	c := *e
	c.Feature = feature
	return &c
}

// ForCandidate returns a copy of the error tagged with a candidate index
func (e *AppError) ForCandidate(index int) *AppError {
	c := *e
	c.Candidate = index
	return &c
}

// ForFold returns a copy of the error tagged with a fold identifier
func (e *AppError) ForFold(fold string) *AppError {
	c := *e
	c.Fold = fold
	return &c
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Candidate: -1,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:      appErr.Code,
			Message:   message,
			Cause:     appErr,
			Candidate: -1,
		}
	}
	return &AppError{
		Code:      CodeInternalError,
		Message:   message,
		Cause:     err,
		Candidate: -1,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		c := *appErr
		c.Code = code
		return &c
	}
	return &AppError{
		Code:      code,
		Message:   err.Error(),
		Cause:     err,
		Candidate: -1,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// IsCode reports whether any AppError in the chain carries code
func IsCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Predefined error codes
const (
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeInsufficientData    = "INSUFFICIENT_DATA"
	CodeStratificationError = "STRATIFICATION_ERROR"
	CodeModelFitError       = "MODEL_FIT_ERROR"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// ConfigurationError reports a request that cannot be answered at all,
// e.g. no bound source configured for a direction.
func ConfigurationError(message string) *AppError {
	return New(CodeConfiguration, message)
}

// InsufficientData reports fewer observations than a requested order-statistic rank.
func InsufficientData(feature string, required, available int) *AppError {
	e := New(CodeInsufficientData,
		fmt.Sprintf("need at least %d observations, got %d", required, available))
	e.Feature = feature
	return e
}

// StratificationError reports a stratum too small for the fold count.
func StratificationError(message string) *AppError {
	return New(CodeStratificationError, message)
}

// ModelFitError reports a survival-model fit that did not converge or timed out.
func ModelFitError(message string, cause error) *AppError {
	e := New(CodeModelFitError, message)
	e.Cause = cause
	return e
}

// IsConfigurationError is fatal to the whole run
func IsConfigurationError(err error) bool {
	return IsCode(err, CodeConfiguration) || IsCode(err, CodeConfigInvalid)
}

// IsInsufficientData is fatal to one feature
func IsInsufficientData(err error) bool { return IsCode(err, CodeInsufficientData) }

// IsStratificationError is fatal to the whole run
func IsStratificationError(err error) bool { return IsCode(err, CodeStratificationError) }

// IsModelFitError is fatal to one candidate
func IsModelFitError(err error) bool { return IsCode(err, CodeModelFitError) }
