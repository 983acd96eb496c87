// Package exclude decides which paths under a backup root are sent to the
// engine. Rules come from three places, strongest first:
//
//  1. per-directory ignore files, nearest ancestor first
//  2. include_patterns from the config, which force INCLUDE
//  3. exclude_patterns from the config
//
// Within one ignore file and within exclude_patterns the last matching line
// wins, and a "!" line re-includes. Pattern syntax is gitignore's.
package exclude

import (
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/majorcontext/strata/internal/log"
)

// DefaultIgnoreFile is the per-directory ignore file name.
const DefaultIgnoreFile = ".strataignore"

// Decision is the outcome for one path.
type Decision int

const (
	Include Decision = iota
	Exclude
)

func (d Decision) String() string {
	if d == Exclude {
		return "exclude"
	}
	return "include"
}

// Sources reported in a Verdict for config-level rules.
const (
	SourceExcludePatterns = "exclude_patterns"
	SourceIncludePatterns = "include_patterns"
)

// Verdict is a Decision plus the rule that produced it. Source and Pattern
// are empty when no rule matched.
type Verdict struct {
	Decision Decision `json:"decision"`
	Source   string   `json:"source,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Line     int      `json:"line,omitempty"`
	// Inherited is set when the path is excluded because a parent
	// directory is.
	Inherited string `json:"inherited,omitempty"`
}

// Options configures a Matcher.
type Options struct {
	// IgnoreFile is looked up in every directory. Defaults to DefaultIgnoreFile.
	IgnoreFile string
	// UseGitignore also reads .gitignore files. When both exist in one
	// directory, .gitignore lines come first so the strata file overrides.
	UseGitignore bool
	Excludes     []string
	Includes     []string
}

// Matcher evaluates paths relative to one root. Ignore files are read
// lazily and cached per directory until the next Walk or Reset; a Matcher
// is safe for concurrent use.
type Matcher struct {
	root     string
	opts     Options
	excludes tier
	includes tier

	mu   sync.Mutex
	dirs map[string]tier
}

// New compiles the config-level patterns for root.
func New(root string, opts Options) *Matcher {
	if opts.IgnoreFile == "" {
		opts.IgnoreFile = DefaultIgnoreFile
	}
	return &Matcher{
		root:     filepath.Clean(root),
		opts:     opts,
		excludes: compileLines(opts.Excludes, nil, SourceExcludePatterns),
		includes: compileLines(opts.Includes, nil, SourceIncludePatterns),
		dirs:     make(map[string]tier),
	}
}

// Reset drops the cached ignore files so edits on disk are picked up.
func (m *Matcher) Reset() {
	m.mu.Lock()
	m.dirs = make(map[string]tier)
	m.mu.Unlock()
}

// IsIgnoreFile reports whether name is the base name of a file the
// matcher reads rules from.
func (m *Matcher) IsIgnoreFile(name string) bool {
	return name == m.opts.IgnoreFile || (m.opts.UseGitignore && name == ".gitignore")
}

// Root returns the directory the matcher is anchored at.
func (m *Matcher) Root() string { return m.root }

// HasIncludes reports whether include patterns can pull paths back out of
// an excluded directory. Walkers must not prune excluded directories when
// this is true.
func (m *Matcher) HasIncludes() bool { return len(m.includes) > 0 }

// Excluded reports whether rel should be left out of the backup.
func (m *Matcher) Excluded(rel string, isDir bool) bool {
	return m.Decide(rel, isDir).Decision == Exclude
}

// Decide classifies rel, a path relative to the root in either slash or OS
// form. Exclusion of any parent directory carries down to rel unless an
// include pattern matches rel itself.
func (m *Matcher) Decide(rel string, isDir bool) Verdict {
	parts := splitRel(path.Clean(filepath.ToSlash(rel)))
	if len(parts) == 0 {
		return Verdict{Decision: Include}
	}

	var parent *Verdict
	for i := 1; i < len(parts); i++ {
		v := m.decideOwn(parts[:i], true)
		if v.Decision == Exclude {
			parent = &v
			parent.Inherited = strings.Join(parts[:i], "/")
			break
		}
	}
	return m.decide(parts, isDir, parent)
}

// decide combines the path's own verdict with an excluded parent.
func (m *Matcher) decide(parts []string, isDir bool, parent *Verdict) Verdict {
	own := m.decideOwn(parts, isDir)
	if parent == nil {
		return own
	}
	if own.Decision == Include && own.Source == SourceIncludePatterns {
		return own
	}
	return *parent
}

// decideOwn applies the three tiers to parts without looking at parents.
func (m *Matcher) decideOwn(parts []string, isDir bool) Verdict {
	for depth := len(parts) - 1; depth >= 0; depth-- {
		t := m.dirRules(parts[:depth])
		if res, r := t.match(parts, isDir); r != nil {
			return verdictFor(res, r)
		}
	}
	if _, r := m.includes.match(parts, isDir); r != nil {
		return verdictFor(gitignore.Include, r)
	}
	if res, r := m.excludes.match(parts, isDir); r != nil {
		return verdictFor(res, r)
	}
	return Verdict{Decision: Include}
}

func verdictFor(res gitignore.MatchResult, r *rule) Verdict {
	d := Include
	if res == gitignore.Exclude {
		d = Exclude
	}
	return Verdict{Decision: d, Source: r.source, Pattern: r.raw, Line: r.line}
}

// dirRules returns the compiled ignore files of the directory dir.
func (m *Matcher) dirRules(dir []string) tier {
	key := strings.Join(dir, "/")

	m.mu.Lock()
	t, ok := m.dirs[key]
	m.mu.Unlock()
	if ok {
		return t
	}

	absDir := filepath.Join(m.root, filepath.FromSlash(key))
	var names []string
	if m.opts.UseGitignore {
		names = append(names, ".gitignore")
	}
	names = append(names, m.opts.IgnoreFile)

	for _, name := range names {
		rules, err := readIgnoreFile(filepath.Join(absDir, name), key)
		if err != nil {
			log.Debug("skipping unreadable ignore file", "dir", absDir, "file", name, "error", err)
			continue
		}
		t = append(t, rules...)
	}

	m.mu.Lock()
	m.dirs[key] = t
	m.mu.Unlock()
	return t
}
