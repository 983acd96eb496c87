package resolve

import (
	"fmt"
	"strings"
)

// NotFoundError means no snapshot matches the reference.
type NotFoundError struct {
	Reference string
	Reason    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reference %q not found: %s", e.Reference, e.Reason)
}

// AmbiguousError means an identifier prefix matches more than one
// snapshot.
type AmbiguousError struct {
	Reference  string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	shown := e.Candidates
	more := ""
	if len(shown) > 5 {
		more = fmt.Sprintf(", and %d more", len(shown)-5)
		shown = shown[:5]
	}
	return fmt.Sprintf("reference %q is ambiguous: matches %s%s\n\n  Use a longer prefix.",
		e.Reference, strings.Join(shown, ", "), more)
}
