package exclude

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (and their parents) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestDecide_ConfigExcludes(t *testing.T) {
	m := New(t.TempDir(), Options{Excludes: []string{"*.log"}})

	assert.Equal(t, Exclude, m.Decide("app/debug.log", false).Decision)
	assert.Equal(t, Include, m.Decide("app/debug.txt", false).Decision)
}

func TestDecide_IncludeOverridesExclude(t *testing.T) {
	tests := []struct {
		name     string
		excludes []string
		includes []string
		path     string
		want     Decision
	}{
		{"include beats broader glob", []string{"*.log"}, []string{"important.log"}, "app/important.log", Include},
		{"sibling still excluded", []string{"*.log"}, []string{"important.log"}, "app/other.log", Exclude},
		{"include inside excluded dir", []string{"build/"}, []string{"build/keep.txt"}, "build/keep.txt", Include},
		{"rest of excluded dir", []string{"build/"}, []string{"build/keep.txt"}, "build/out.o", Exclude},
		{"include declared before exclude", []string{"secrets/**"}, []string{"secrets/README"}, "secrets/README", Include},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(t.TempDir(), Options{Excludes: tt.excludes, Includes: tt.includes})
			v := m.Decide(tt.path, false)
			assert.Equal(t, tt.want, v.Decision, "verdict %+v", v)
		})
	}
}

func TestDecide_IgnoreFileOverridesConfig(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"sub/.strataignore": "*.log\n!notes.txt\n",
	})
	m := New(root, Options{
		Excludes: []string{"*.txt"},
		Includes: []string{"debug.log"},
	})

	v := m.Decide("sub/debug.log", false)
	assert.Equal(t, Exclude, v.Decision)
	assert.Equal(t, "sub/.strataignore", v.Source)

	v = m.Decide("sub/notes.txt", false)
	assert.Equal(t, Include, v.Decision)
	assert.Equal(t, "!notes.txt", v.Pattern)

	// Outside sub/ only the config applies.
	assert.Equal(t, Include, m.Decide("debug.log", false).Decision)
	assert.Equal(t, Exclude, m.Decide("notes.txt", false).Decision)
}

func TestDecide_NearestIgnoreFileFirst(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".strataignore":   "*.dat\n",
		"a/.strataignore": "!keep.dat\n",
	})
	m := New(root, Options{})

	assert.Equal(t, Include, m.Decide("a/keep.dat", false).Decision)
	assert.Equal(t, Exclude, m.Decide("a/other.dat", false).Decision)
	assert.Equal(t, Exclude, m.Decide("b/keep.dat", false).Decision)
}

func TestDecide_LastMatchWinsWithinFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Decision
	}{
		{"negation after exclude", "*.log\n!keep.log\n", Include},
		{"exclude after negation", "!keep.log\n*.log\n", Exclude},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{".strataignore": tt.content})
			assert.Equal(t, tt.want, New(root, Options{}).Decide("keep.log", false).Decision)
		})
	}
}

func TestDecide_GlobSemantics(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		isDir   bool
		want    Decision
	}{
		{"cache/", "cache", true, Exclude},
		{"cache/", "cache", false, Include},
		{"cache/", "cache/blob.bin", false, Exclude},
		{"cache/", "deep/cache/blob.bin", false, Exclude},
		{"**/tmp/*.bin", "a/b/tmp/x.bin", false, Exclude},
		{"**/tmp/*.bin", "a/b/tmp/x.txt", false, Include},
		{"file?.txt", "file1.txt", false, Exclude},
		{"file?.txt", "file10.txt", false, Include},
		{"[ab].txt", "a.txt", false, Exclude},
		{"[ab].txt", "c.txt", false, Include},
		{"*.LOG", "x.log", false, Include},
		{"/top.txt", "top.txt", false, Exclude},
		{"/top.txt", "nested/top.txt", false, Include},
		{"docs/*.md", "docs/a.md", false, Exclude},
		{"docs/*.md", "docs/sub/a.md", false, Include},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			m := New(t.TempDir(), Options{Excludes: []string{tt.pattern}})
			assert.Equal(t, tt.want, m.Decide(tt.path, tt.isDir).Decision)
		})
	}
}

func TestDecide_MalformedPatternNeverMatches(t *testing.T) {
	m := New(t.TempDir(), Options{Excludes: []string{"[unclosed", "*.tmp"}})

	assert.NotPanics(t, func() { m.Decide("[unclosed", false) })
	assert.Equal(t, Include, m.Decide("[unclosed", false).Decision)
	assert.Equal(t, Exclude, m.Decide("scratch.tmp", false).Decision)
}

func TestDecide_CommentsAndBlankLines(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".strataignore": "# build output\n\n   \nout/\n\\#literal\n",
	})
	m := New(root, Options{})

	assert.Equal(t, Exclude, m.Decide("out", true).Decision)
	assert.Equal(t, Include, m.Decide("# build output", false).Decision)
	assert.Equal(t, Exclude, m.Decide("#literal", false).Decision)
}

func TestDecide_Gitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":    "*.o\nvendor/\n",
		".strataignore": "!vendor/\n",
	})

	without := New(root, Options{})
	assert.Equal(t, Include, without.Decide("main.o", false).Decision)

	with := New(root, Options{UseGitignore: true})
	assert.Equal(t, Exclude, with.Decide("main.o", false).Decision)
	assert.Equal(t, Include, with.Decide("vendor", true).Decision, "strata file is read after .gitignore")
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".strataignore":             "node_modules/\n",
		"src/main.go":               "package main",
		"src/debug.log":             "noise",
		"node_modules/pkg/index.js": "x",
		"docs/readme.md":            "hi",
	})
	m := New(root, Options{Excludes: []string{"*.log"}})

	var got []string
	var excluded []string
	require.NoError(t, Walk(context.Background(), m, func(e Entry) error {
		if e.Excluded {
			excluded = append(excluded, e.Rel)
		} else {
			got = append(got, e.Rel)
		}
		return nil
	}))
	sort.Strings(got)
	sort.Strings(excluded)
	assert.Equal(t, []string{".strataignore", "docs/readme.md", "src/main.go"}, got)
	assert.Equal(t, []string{"node_modules", "src/debug.log"}, excluded)
}

func TestWalk_RereadsEditedIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"sub/debug.log": "noise"})
	m := New(root, Options{})

	excludedBy := func() []string {
		var excluded []string
		require.NoError(t, Walk(context.Background(), m, func(e Entry) error {
			if e.Excluded {
				excluded = append(excluded, e.Rel)
			}
			return nil
		}))
		return excluded
	}

	assert.Empty(t, excludedBy())
	assert.Equal(t, Include, m.Decide("sub/debug.log", false).Decision)

	writeTree(t, root, map[string]string{"sub/.strataignore": "*.log\n"})
	assert.Equal(t, []string{"sub/debug.log"}, excludedBy())

	writeTree(t, root, map[string]string{"sub/.strataignore": "# nothing\n"})
	assert.Empty(t, excludedBy())
}

func TestReset_PicksUpNewIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"sub/debug.log": "noise"})
	set := NewSet([]string{root}, Options{UseGitignore: true})
	abs := filepath.Join(root, "sub", "debug.log")

	assert.False(t, set.Excluded(abs, false))
	writeTree(t, root, map[string]string{"sub/.strataignore": "*.log\n"})

	set.Reset()
	assert.True(t, set.Excluded(abs, false))

	assert.True(t, set.IsIgnoreFile(".strataignore"))
	assert.True(t, set.IsIgnoreFile(".gitignore"))
	assert.False(t, set.IsIgnoreFile("debug.log"))
}

func TestWalk_DescendsForIncludes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"build/keep.txt": "k",
		"build/out.o":    "o",
	})
	m := New(root, Options{Excludes: []string{"build/"}, Includes: []string{"build/keep.txt"}})

	var got, excluded []string
	require.NoError(t, Walk(context.Background(), m, func(e Entry) error {
		if e.Excluded {
			excluded = append(excluded, e.Rel)
		} else {
			got = append(got, e.Rel)
		}
		return nil
	}))
	assert.Equal(t, []string{"build/keep.txt"}, got)
	assert.Equal(t, []string{"build/out.o"}, excluded, "directory is descended, not reported")
}

func TestWalk_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Walk(ctx, New(root, Options{}), func(Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSet_Excluded(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	s := NewSet([]string{a, b}, Options{Excludes: []string{"*.bak"}})

	assert.True(t, s.Excluded(filepath.Join(a, "x.bak"), false))
	assert.False(t, s.Excluded(filepath.Join(b, "x.txt"), false))
	assert.True(t, s.Excluded(filepath.Join(filepath.Dir(a), "elsewhere.txt"), false))
}

func TestAnalyze(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.txt":        "12345",
		"big.bin":         "0123456789",
		"logs/a.log":      "aaa",
		"logs/b.log":      "bb",
		"cache/blob":      "cccc",
		"cache/deep/blob": "d",
	})
	m := New(root, Options{Excludes: []string{"*.log", "cache/"}})

	rep, err := Analyze(context.Background(), m, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.IncludedFiles)
	assert.Equal(t, int64(15), rep.IncludedBytes)
	assert.Equal(t, 4, rep.ExcludedFiles)
	assert.Equal(t, int64(10), rep.ExcludedBytes)
	require.Len(t, rep.Largest, 1)
	assert.Equal(t, "big.bin", rep.Largest[0].Rel)

	byPattern := map[string]RuleStat{}
	for _, r := range rep.Rules {
		byPattern[r.Pattern] = r
	}
	assert.Equal(t, 2, byPattern["*.log"].Files)
	assert.Equal(t, 2, byPattern["cache/"].Files)
	assert.Equal(t, int64(5), byPattern["cache/"].Bytes)
}

func TestSuggestAndWrite(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"package.json": "{}", "pyproject.toml": ""})

	text := Render(Suggest(dir))
	assert.Contains(t, text, "node_modules/")
	assert.Contains(t, text, "__pycache__/")
	assert.NotContains(t, text, "/target/")

	path, err := WriteIgnoreFile(dir, "", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultIgnoreFile), path)

	_, err = WriteIgnoreFile(dir, "", false)
	assert.Error(t, err)
	_, err = WriteIgnoreFile(dir, "", true)
	assert.NoError(t, err)

	// The generated file parses and excludes what it lists.
	assert.Equal(t, Exclude, New(dir, Options{}).Decide("web/node_modules", true).Decision)
}
