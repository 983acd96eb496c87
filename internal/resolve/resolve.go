// Package resolve maps git-like references onto snapshot identifiers.
//
// A reference is checked against these forms in order, and the first form
// it matches decides how it is resolved:
//
//	latest, HEAD         newest snapshot
//	HEAD~N, ~N           N-th snapshot before the newest
//	snap-<hex>, <hex>    unique identifier prefix (bare hex needs 4+ digits)
//	anything else        newest snapshot carrying that tag locally
//
// Resolution is a pure function of the engine's snapshot list and the local
// metadata records. A reference that matches an earlier form is never
// reinterpreted as a later one.
package resolve

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/metadata"
)

// IDPrefix is the optional prefix that forces an identifier lookup.
const IDPrefix = "snap-"

// MinHexPrefix is the shortest bare hex string treated as an identifier.
const MinHexPrefix = 4

var (
	relativeRe = regexp.MustCompile(`(?i)^(?:head)?~(\d+)$`)
	hexRe      = regexp.MustCompile(`(?i)^[0-9a-f]+$`)
)

// Kind is the form a reference takes.
type Kind int

const (
	KindTag Kind = iota
	KindLatest
	KindRelative
	KindID
)

// Classify reports which form ref takes, without resolving it.
func Classify(ref string) Kind {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	switch {
	case lower == "latest" || lower == "head":
		return KindLatest
	case relativeRe.MatchString(ref):
		return KindRelative
	case strings.HasPrefix(lower, IDPrefix):
		return KindID
	case len(ref) >= MinHexPrefix && hexRe.MatchString(ref):
		return KindID
	}
	return KindTag
}

// SortNewestFirst orders snapshots by time descending, breaking ties by
// identifier ascending.
func SortNewestFirst(snaps []engine.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.After(b.Time)
		}
		return a.ID < b.ID
	})
}

// Resolve returns the identifier ref names. known is the engine's snapshot
// list and is not modified; local supplies tags.
func Resolve(ref string, known []engine.Snapshot, local []metadata.Record) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &NotFoundError{Reference: ref, Reason: "empty reference"}
	}

	ordered := append([]engine.Snapshot(nil), known...)
	SortNewestFirst(ordered)

	switch Classify(ref) {
	case KindLatest:
		return nth(ref, ordered, 0)
	case KindRelative:
		m := relativeRe.FindStringSubmatch(ref)
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return "", &NotFoundError{Reference: ref, Reason: "offset out of range"}
		}
		return nth(ref, ordered, n)
	case KindID:
		return byPrefix(ref, ordered)
	}
	return byTag(ref, ordered, local)
}

func nth(ref string, ordered []engine.Snapshot, n int) (string, error) {
	if len(ordered) == 0 {
		return "", &NotFoundError{Reference: ref, Reason: "repository has no snapshots"}
	}
	if n >= len(ordered) {
		return "", &NotFoundError{
			Reference: ref,
			Reason:    "only " + strconv.Itoa(len(ordered)) + " snapshot(s) exist",
		}
	}
	return ordered[n].ID, nil
}

func byPrefix(ref string, ordered []engine.Snapshot) (string, error) {
	prefix := strings.ToLower(ref)
	prefix = strings.TrimPrefix(prefix, IDPrefix)
	if prefix == "" {
		return "", &NotFoundError{Reference: ref, Reason: "identifier prefix is empty"}
	}

	var matches []string
	for _, s := range ordered {
		if strings.HasPrefix(strings.ToLower(s.ID), prefix) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", &NotFoundError{Reference: ref, Reason: "no snapshot identifier starts with " + prefix}
	case 1:
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", &AmbiguousError{Reference: ref, Candidates: matches}
}

// byTag picks the newest known snapshot whose local record carries tag.
// Records for snapshots the engine no longer lists are ignored.
func byTag(tag string, ordered []engine.Snapshot, local []metadata.Record) (string, error) {
	tagged := make(map[string]bool)
	for i := range local {
		if local[i].HasTag(tag) {
			tagged[local[i].ID] = true
		}
	}
	for _, s := range ordered {
		if tagged[s.ID] {
			return s.ID, nil
		}
	}
	reason := "no snapshot is tagged " + strconv.Quote(tag)
	if len(tagged) > 0 {
		reason += " (tagged snapshots no longer exist in the repository)"
	}
	return "", &NotFoundError{Reference: tag, Reason: reason}
}
