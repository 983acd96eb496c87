// Package id generates short identifiers for strata operations and daemon
// triggers. They only correlate log lines; restic assigns snapshot IDs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate returns "<prefix>_<12 hex chars>", e.g. "op_1f0c9a7be214".
func Generate(prefix string) string {
	u := uuid.New()
	return prefix + "_" + strings.ReplaceAll(u.String(), "-", "")[:12]
}
