package backup

import (
	"strings"

	"github.com/majorcontext/strata/internal/resolve"
)

// ValidateTags rejects tags that would be unusable as references. A tag
// that parses as latest, HEAD~N or an identifier prefix is resolved as
// that form and could never be looked up by name.
func ValidateTags(tags []string) error {
	for _, t := range tags {
		switch {
		case strings.TrimSpace(t) == "":
			return &InvalidTagError{Tag: t, Reason: "tag is empty"}
		case t != strings.TrimSpace(t):
			return &InvalidTagError{Tag: t, Reason: "tag has surrounding whitespace"}
		case strings.Contains(t, ","):
			return &InvalidTagError{Tag: t, Reason: "tag contains a comma"}
		case resolve.Classify(t) != resolve.KindTag:
			return &InvalidTagError{Tag: t, Reason: "tag would be read as a snapshot reference"}
		}
	}
	return nil
}
