package engine

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateRunID creates a unique run identifier.
// Format: run-{first 12 hex digits of a random UUID}
// Example: run-3f2a9c1e7b4d
func GenerateRunID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "run-" + id[:12]
}
