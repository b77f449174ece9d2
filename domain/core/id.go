package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	RunID      ID
	FeatureKey ID
	SampleID   ID
)

// NewRunID creates a time-ordered run identifier
func NewRunID() RunID { return RunID(NewID()) }

// String conversions for domain IDs
func (id RunID) String() string      { return ID(id).String() }
func (id FeatureKey) String() string { return ID(id).String() }
func (id SampleID) String() string   { return ID(id).String() }

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// ParseFeatureKey parses a string into FeatureKey
func ParseFeatureKey(s string) (FeatureKey, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("feature key cannot be empty")
	}
	return FeatureKey(strings.TrimSpace(s)), nil
}

// ParseSampleID parses a string into SampleID
func ParseSampleID(s string) (SampleID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("sample ID cannot be empty")
	}
	return SampleID(strings.TrimSpace(s)), nil
}

// SampleIDStrings converts sample IDs to plain strings
func SampleIDStrings(ids []SampleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
