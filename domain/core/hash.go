package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Domain-specific hash types
type (
	CohortHash     Hash
	AssignmentHash Hash
)

func NewCohortHash(data []byte) CohortHash         { return CohortHash(NewHash(data)) }
func NewAssignmentHash(data []byte) AssignmentHash { return AssignmentHash(NewHash(data)) }

func (h CohortHash) String() string     { return Hash(h).String() }
func (h AssignmentHash) String() string { return Hash(h).String() }

// ComputeCohortHash fingerprints a cohort by its sample and feature identifiers.
// Order-insensitive: inputs are sorted on a copy.
func ComputeCohortHash(sampleIDs []string, featureKeys []string) CohortHash {
	samples := append([]string(nil), sampleIDs...)
	features := append([]string(nil), featureKeys...)
	sort.Strings(samples)
	sort.Strings(features)

	var data strings.Builder
	data.WriteString("samples:")
	data.WriteString(strings.Join(samples, ","))
	data.WriteString(";features:")
	data.WriteString(strings.Join(features, ","))
	return NewCohortHash([]byte(data.String()))
}

// ComputeAssignmentHash fingerprints an ordered list of labelled groups,
// e.g. the test sets of a fold sequence. Order matters.
func ComputeAssignmentHash(groups [][]string) AssignmentHash {
	var data strings.Builder
	for i, group := range groups {
		data.WriteString(fmt.Sprintf("%d:", i))
		data.WriteString(strings.Join(group, ","))
		data.WriteString(";")
	}
	return NewAssignmentHash([]byte(data.String()))
}
