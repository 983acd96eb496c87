package exclude

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/majorcontext/strata/internal/log"
)

// Entry is one path reported by Walk.
type Entry struct {
	Path    string // absolute
	Rel     string // slash-separated, relative to the matcher root
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	IsDir   bool
	// Excluded entries are reported so callers can pass them on to the
	// engine. An excluded directory is reported once and not descended.
	Excluded bool
}

// Walk visits the tree under the matcher's root in lexical order. Ignore
// files are re-read at the start of every walk. It
// reports every included non-directory entry, every excluded file, and
// every excluded directory it prunes. Excluded directories are still
// descended when include patterns could re-admit something beneath them;
// in that case the directory itself is not reported.
func Walk(ctx context.Context, m *Matcher, fn func(Entry) error) error {
	m.Reset()
	excludedDirs := make(map[string]*Verdict)

	return filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == m.root {
				return err
			}
			// The engine reports unreadable entries itself.
			log.Debug("skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == m.root {
			return nil
		}

		rel, err := filepath.Rel(m.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		parts := splitRel(rel)

		parent := excludedDirs[path.Dir(rel)]
		v := m.decide(parts, d.IsDir(), parent)

		if d.IsDir() {
			if v.Decision == Include {
				return nil
			}
			if !m.HasIncludes() {
				if err := fn(Entry{Path: p, Rel: rel, IsDir: true, Excluded: true, Mode: d.Type()}); err != nil {
					return err
				}
				return filepath.SkipDir
			}
			if v.Inherited == "" {
				v.Inherited = rel
			}
			excludedDirs[rel] = &v
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed since the directory was read.
			return nil
		}
		return fn(Entry{
			Path:     p,
			Rel:      rel,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Mode:     info.Mode(),
			Excluded: v.Decision == Exclude,
		})
	})
}

// Set is one Matcher per backup root.
type Set struct {
	matchers []*Matcher
}

// NewSet builds matchers for every root with shared options.
func NewSet(roots []string, opts Options) *Set {
	s := &Set{}
	for _, r := range roots {
		s.matchers = append(s.matchers, New(r, opts))
	}
	return s
}

// Matchers returns the per-root matchers in configuration order.
func (s *Set) Matchers() []*Matcher { return s.matchers }

// Excluded classifies an absolute path using the matcher of the deepest
// root that contains it. Paths outside every root are excluded.
func (s *Set) Excluded(abs string, isDir bool) bool {
	v, ok := s.Decide(abs, isDir)
	return !ok || v.Decision == Exclude
}

// Decide returns the verdict for an absolute path from the matcher of the
// deepest root containing it. ok is false when no root contains abs.
func (s *Set) Decide(abs string, isDir bool) (v Verdict, ok bool) {
	var best *Matcher
	var bestRel string
	for _, m := range s.matchers {
		rel, err := filepath.Rel(m.root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(m.root) > len(best.root) {
			best, bestRel = m, rel
		}
	}
	if best == nil {
		return Verdict{}, false
	}
	return best.Decide(bestRel, isDir), true
}

// Reset drops every matcher's cached ignore files.
func (s *Set) Reset() {
	for _, m := range s.matchers {
		m.Reset()
	}
}

// IsIgnoreFile reports whether a file named name holds exclusion rules.
func (s *Set) IsIgnoreFile(name string) bool {
	for _, m := range s.matchers {
		if m.IsIgnoreFile(name) {
			return true
		}
	}
	return false
}

// Walk walks every root in order.
func (s *Set) Walk(ctx context.Context, fn func(Entry) error) error {
	for _, m := range s.matchers {
		if err := Walk(ctx, m, fn); err != nil {
			return err
		}
	}
	return nil
}
