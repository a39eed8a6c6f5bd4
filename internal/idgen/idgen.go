// Package idgen mints identifiers for assessments and requests.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// AssessmentPrefix marks risk assessment IDs.
const AssessmentPrefix = "ra_"

// Assessment returns a new assessment ID. IDs are built from version 7
// UUIDs, so within one receiver they sort in creation order, matching the
// (created_at, id) keyset used by verdict history.
func Assessment() string {
	return AssessmentPrefix + compact(uuid.Must(uuid.NewV7()))
}

// Request returns a new 32-character request ID.
func Request() string {
	return compact(uuid.New())
}

func compact(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}
