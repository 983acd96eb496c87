package exclude

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// rule is one compiled pattern line.
type rule struct {
	pattern gitignore.Pattern
	raw     string
	source  string
	line    int
}

// tier is an ordered rule list evaluated last-match-wins.
type tier []rule

// match returns the last rule in t that has an opinion on p.
func (t tier) match(p []string, isDir bool) (gitignore.MatchResult, *rule) {
	for i := len(t) - 1; i >= 0; i-- {
		if r := t[i].pattern.Match(p, isDir); r != gitignore.NoMatch {
			return r, &t[i]
		}
	}
	return gitignore.NoMatch, nil
}

// compileLines parses ignore-file syntax. Blank lines and #-comments are
// skipped. Patterns that are not valid globs compile anyway and simply
// never match.
func compileLines(lines []string, domain []string, source string) tier {
	var t tier
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		// \# and \! escape a literal leading character.
		if strings.HasPrefix(trimmed, `\#`) || strings.HasPrefix(trimmed, `\!`) {
			trimmed = trimmed[1:]
		}
		t = append(t, rule{
			pattern: gitignore.ParsePattern(trimmed, domain),
			raw:     trimmed,
			source:  source,
			line:    i + 1,
		})
	}
	return t
}

// readIgnoreFile loads the named file and compiles it for the directory
// rel (slash-separated, "" for the root). A missing file yields no rules.
func readIgnoreFile(abs, rel string) (tier, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ignore file %s: %w", abs, err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file %s: %w", abs, err)
	}
	source := path.Join(rel, path.Base(abs))
	return compileLines(lines, splitRel(rel), source), nil
}

// splitRel turns a cleaned slash path into components. "" and "." are the root.
func splitRel(rel string) []string {
	if rel == "" || rel == "." {
		return nil
	}
	return strings.Split(rel, "/")
}
