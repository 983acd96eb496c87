package exclude

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Section is a titled block of patterns in a generated ignore file.
type Section struct {
	Title    string
	Patterns []string
}

// detector adds a section when any marker exists in the directory.
type detector struct {
	markers []string
	section Section
}

var detectors = []detector{
	{[]string{"package.json"}, Section{"Node.js", []string{"node_modules/", ".npm/", ".next/", ".nuxt/", ".parcel-cache/"}}},
	{[]string{"pyproject.toml", "requirements.txt", "setup.py", "Pipfile"}, Section{"Python", []string{"__pycache__/", "*.pyc", ".venv/", "venv/", ".pytest_cache/", ".mypy_cache/", ".tox/"}}},
	{[]string{"Cargo.toml"}, Section{"Rust", []string{"/target/"}}},
	{[]string{"pom.xml", "build.gradle", "build.gradle.kts"}, Section{"JVM", []string{"/target/", "/build/", ".gradle/"}}},
	{[]string{"go.mod"}, Section{"Go", []string{"/bin/", "*.test"}}},
	{[]string{".git"}, Section{"Version control", []string{".git/"}}},
}

var baseSections = []Section{
	{"Editor and OS clutter", []string{".DS_Store", "Thumbs.db", "*.swp", "*~"}},
	{"Temporary files", []string{"*.tmp", "*.temp", ".cache/"}},
}

// Suggest inspects dir for well-known project markers and returns the
// sections an ignore file for it should contain.
func Suggest(dir string) []Section {
	out := append([]Section(nil), baseSections...)
	for _, d := range detectors {
		for _, marker := range d.markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				out = append(out, d.section)
				break
			}
		}
	}
	return out
}

// Render formats sections as ignore-file text.
func Render(sections []Section) string {
	var b strings.Builder
	b.WriteString("# Paths listed here are left out of strata snapshots.\n")
	b.WriteString("# Syntax follows .gitignore: '!' re-includes, a trailing '/' matches directories only.\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "\n# %s\n", s.Title)
		for _, p := range s.Patterns {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// WriteIgnoreFile writes a suggested ignore file named name into dir. It
// refuses to replace an existing file unless force is set.
func WriteIgnoreFile(dir, name string, force bool) (string, error) {
	if name == "" {
		name = DefaultIgnoreFile
	}
	target := filepath.Join(dir, name)
	if !force {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("%s already exists (use --force to overwrite)", target)
		}
	}
	if err := os.WriteFile(target, []byte(Render(Suggest(dir))), 0o644); err != nil {
		return "", fmt.Errorf("writing ignore file: %w", err)
	}
	return target, nil
}
