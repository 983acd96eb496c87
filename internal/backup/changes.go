package backup

import (
	"context"
	"sort"

	"github.com/majorcontext/strata/internal/exclude"
	"github.com/majorcontext/strata/internal/metadata"
)

// scanResult is one pass over the source paths.
type scanResult struct {
	index    map[string]metadata.IndexEntry
	excluded []string
}

// scan walks the sources under the exclusion rules. Included files form
// the new index; excluded paths are handed to the engine.
func (o *Orchestrator) scan(ctx context.Context) (*scanResult, error) {
	res := &scanResult{index: make(map[string]metadata.IndexEntry)}
	err := o.excludes.Walk(ctx, func(e exclude.Entry) error {
		if e.Excluded {
			res.excluded = append(res.excluded, e.Path)
			return nil
		}
		if !e.Mode.IsRegular() {
			return nil
		}
		res.index[e.Path] = metadata.IndexEntry{Size: e.Size, ModTime: e.ModTime}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// diffIndex compares two file indexes by size and modification time. The
// counts are exact; the returned list holds at most limit paths, sorted.
func diffIndex(prev, cur map[string]metadata.IndexEntry, limit int) (metadata.Changes, []metadata.FileChange) {
	var c metadata.Changes
	var list []metadata.FileChange

	for p, e := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			c.Added++
			list = append(list, metadata.FileChange{Path: p, Kind: metadata.Added, Size: e.Size})
		case old.Size != e.Size || !old.ModTime.Equal(e.ModTime):
			c.Modified++
			list = append(list, metadata.FileChange{Path: p, Kind: metadata.Modified, Size: e.Size})
		}
	}
	for p, e := range prev {
		if _, ok := cur[p]; !ok {
			c.Removed++
			list = append(list, metadata.FileChange{Path: p, Kind: metadata.Removed, Size: e.Size})
		}
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return c, list
}

// PendingChanges reports what the next snapshot would record.
func (o *Orchestrator) PendingChanges(ctx context.Context) (metadata.Changes, error) {
	scan, err := o.scan(ctx)
	if err != nil {
		return metadata.Changes{}, err
	}
	prev, err := o.store.Index(ctx)
	if err != nil {
		return metadata.Changes{}, err
	}
	c, _ := diffIndex(prev, scan.index, 0)
	return c, nil
}
