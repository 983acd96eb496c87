package exclude

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
)

// RuleStat is how much one rule removed from the backup.
type RuleStat struct {
	Source  string `json:"source"`
	Pattern string `json:"pattern"`
	Files   int    `json:"files"`
	Bytes   int64  `json:"bytes"`
}

// Report summarizes what a Matcher keeps and drops under its root.
type Report struct {
	Root          string     `json:"root"`
	IncludedFiles int        `json:"included_files"`
	IncludedBytes int64      `json:"included_bytes"`
	ExcludedFiles int        `json:"excluded_files"`
	ExcludedBytes int64      `json:"excluded_bytes"`
	Rules         []RuleStat `json:"rules"`
	Largest       []Entry    `json:"largest"`
}

// Analyze walks the whole tree, including excluded directories, and
// attributes every excluded file to the rule responsible. Largest lists up
// to topN of the biggest included files.
func Analyze(ctx context.Context, m *Matcher, topN int) (*Report, error) {
	rep := &Report{Root: m.root}
	stats := make(map[[2]string]*RuleStat)
	excludedDirs := make(map[string]*Verdict)

	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are reported by the engine at backup time.
			if d != nil && d.IsDir() && p != m.root {
				return filepath.SkipDir
			}
			return err
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
		v := m.decide(splitRel(rel), d.IsDir(), excludedDirs[path.Dir(rel)])

		if d.IsDir() {
			if v.Decision == Exclude {
				excludedDirs[rel] = &v
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if v.Decision == Include {
			rep.IncludedFiles++
			rep.IncludedBytes += info.Size()
			rep.Largest = append(rep.Largest, Entry{Path: p, Rel: rel, Size: info.Size(), ModTime: info.ModTime(), Mode: info.Mode()})
			if len(rep.Largest) > 4*topN+64 {
				rep.Largest = largest(rep.Largest, topN)
			}
			return nil
		}

		rep.ExcludedFiles++
		rep.ExcludedBytes += info.Size()
		key := [2]string{v.Source, v.Pattern}
		st, ok := stats[key]
		if !ok {
			st = &RuleStat{Source: v.Source, Pattern: v.Pattern}
			stats[key] = st
		}
		st.Files++
		st.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, st := range stats {
		rep.Rules = append(rep.Rules, *st)
	}
	sort.Slice(rep.Rules, func(i, j int) bool {
		if rep.Rules[i].Bytes != rep.Rules[j].Bytes {
			return rep.Rules[i].Bytes > rep.Rules[j].Bytes
		}
		return rep.Rules[i].Pattern < rep.Rules[j].Pattern
	})

	rep.Largest = largest(rep.Largest, topN)
	return rep, nil
}

func largest(entries []Entry, n int) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Size != entries[j].Size {
			return entries[i].Size > entries[j].Size
		}
		return entries[i].Rel < entries[j].Rel
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
