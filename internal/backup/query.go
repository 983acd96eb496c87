package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/majorcontext/strata/internal/engine"
	"github.com/majorcontext/strata/internal/metadata"
	"github.com/majorcontext/strata/internal/resolve"
)

// Entry joins an engine snapshot with its local record. Record is nil for
// snapshots strata did not create or whose metadata was lost.
type Entry struct {
	Snapshot engine.Snapshot  `json:"snapshot"`
	Record   *metadata.Record `json:"record,omitempty"`
}

// Tracked reports whether local metadata exists.
func (e Entry) Tracked() bool { return e.Record != nil }

// Message returns the recorded message, or "" when untracked.
func (e Entry) Message() string {
	if e.Record == nil {
		return ""
	}
	return e.Record.Message
}

// Tags prefers local tags and falls back to the engine's.
func (e Entry) Tags() []string {
	if e.Record != nil {
		return e.Record.Tags
	}
	return e.Snapshot.Tags
}

// Author prefers the recorded author and falls back to the engine's user.
func (e Entry) Author() string {
	if e.Record != nil && e.Record.Author != "" {
		return e.Record.Author
	}
	return e.Snapshot.Username
}

// view is the engine's snapshot list, newest first, with local records.
type view struct {
	snaps   []engine.Snapshot
	records []metadata.Record
	byID    map[string]*metadata.Record
}

func (o *Orchestrator) load(ctx context.Context) (*view, error) {
	snaps, err := o.eng.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	resolve.SortNewestFirst(snaps)
	records, err := o.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	v := &view{snaps: snaps, records: records, byID: make(map[string]*metadata.Record, len(records))}
	for i := range records {
		v.byID[records[i].ID] = &records[i]
	}
	return v, nil
}

func (v *view) entry(s engine.Snapshot) Entry {
	return Entry{Snapshot: s, Record: v.byID[s.ID]}
}

func (v *view) find(id string) (engine.Snapshot, int) {
	for i, s := range v.snaps {
		if s.ID == id {
			return s, i
		}
	}
	return engine.Snapshot{}, -1
}

// LogFilter narrows Log. Zero values match everything.
type LogFilter struct {
	Limit  int
	Author string
	Tag    string
}

// Log lists snapshots newest first.
func (o *Orchestrator) Log(ctx context.Context, f LogFilter) ([]Entry, error) {
	v, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, s := range v.snaps {
		e := v.entry(s)
		if f.Author != "" && e.Author() != f.Author {
			continue
		}
		if f.Tag != "" && !contains(e.Tags(), f.Tag) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Show resolves ref and returns the snapshot with its changed paths.
func (o *Orchestrator) Show(ctx context.Context, ref string) (*Entry, error) {
	v, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	snapID, err := resolve.Resolve(ref, v.snaps, v.records)
	if err != nil {
		return nil, err
	}
	s, _ := v.find(snapID)
	e := Entry{Snapshot: s}
	if _, ok := v.byID[snapID]; ok {
		rec, err := o.store.Get(ctx, snapID)
		if err != nil && !errors.Is(err, metadata.ErrNotFound) {
			return nil, err
		}
		e.Record = rec
	}
	return &e, nil
}

// Search returns tracked snapshots whose message or tags contain query,
// ignoring case. Records for snapshots the engine no longer lists are
// left out.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	v, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := o.store.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := range recs {
		s, idx := v.find(recs[i].ID)
		if idx < 0 {
			continue
		}
		out = append(out, Entry{Snapshot: s, Record: &recs[i]})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DiffResult is the combined change list between two snapshots.
type DiffResult struct {
	From    Entry                 `json:"from"`
	To      Entry                 `json:"to"`
	Changes []metadata.FileChange `json:"changes"`
	// Untracked counts snapshots in the range without metadata; their
	// changes are unknown.
	Untracked int `json:"untracked"`
	// Truncated is set when a snapshot in the range recorded more changes
	// than it stored paths for.
	Truncated bool `json:"truncated"`
}

// Diff combines the changed paths recorded by every snapshot after from
// up to and including to. The references may be given in either order.
func (o *Orchestrator) Diff(ctx context.Context, fromRef, toRef string) (*DiffResult, error) {
	v, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	fromID, err := resolve.Resolve(fromRef, v.snaps, v.records)
	if err != nil {
		return nil, err
	}
	toID, err := resolve.Resolve(toRef, v.snaps, v.records)
	if err != nil {
		return nil, err
	}
	from, fi := v.find(fromID)
	to, ti := v.find(toID)
	// Newest first: a larger index is older.
	if fi < ti {
		from, to, fi, ti = to, from, ti, fi
	}

	res := &DiffResult{From: v.entry(from), To: v.entry(to)}
	net := make(map[string]metadata.FileChange)
	for i := fi - 1; i >= ti; i-- {
		id := v.snaps[i].ID
		rec, ok := v.byID[id]
		if !ok {
			res.Untracked++
			continue
		}
		paths, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Changes.Total() > len(paths.ChangedPaths) {
			res.Truncated = true
		}
		for _, c := range paths.ChangedPaths {
			merge(net, c)
		}
	}

	for _, c := range net {
		res.Changes = append(res.Changes, c)
	}
	sort.Slice(res.Changes, func(i, j int) bool { return res.Changes[i].Path < res.Changes[j].Path })
	return res, nil
}

// merge folds a later change for the same path into net.
func merge(net map[string]metadata.FileChange, c metadata.FileChange) {
	prev, ok := net[c.Path]
	if !ok {
		net[c.Path] = c
		return
	}
	switch {
	case prev.Kind == metadata.Added && c.Kind == metadata.Removed:
		delete(net, c.Path)
	case prev.Kind == metadata.Added:
		c.Kind = metadata.Added
		net[c.Path] = c
	case prev.Kind == metadata.Removed && c.Kind == metadata.Added:
		c.Kind = metadata.Modified
		net[c.Path] = c
	default:
		net[c.Path] = c
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
