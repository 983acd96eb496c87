// Package metadata is the local record of snapshot messages, tags and
// authorship, keyed by the engine's snapshot identifier. The engine's own
// snapshot list is authoritative; Reconcile drops rows it no longer has.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Store is a SQLite-backed metadata store. Writes within one process are
// serialized; across processes SQLite's WAL journal gives readers a
// consistent view while a write commits.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating metadata dir: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating metadata schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id                    TEXT PRIMARY KEY,
			message               TEXT NOT NULL DEFAULT '',
			author                TEXT NOT NULL,
			hostname              TEXT NOT NULL DEFAULT '',
			ts_ns                 INTEGER NOT NULL,
			parent                TEXT NOT NULL DEFAULT '',
			added                 INTEGER NOT NULL DEFAULT 0,
			modified              INTEGER NOT NULL DEFAULT 0,
			removed               INTEGER NOT NULL DEFAULT 0,
			files_new             INTEGER NOT NULL DEFAULT 0,
			files_changed         INTEGER NOT NULL DEFAULT 0,
			files_unmodified      INTEGER NOT NULL DEFAULT 0,
			data_added            INTEGER NOT NULL DEFAULT 0,
			total_files_processed INTEGER NOT NULL DEFAULT 0,
			total_bytes_processed INTEGER NOT NULL DEFAULT 0,
			duration_ns           INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ns DESC);
		CREATE INDEX IF NOT EXISTS idx_snapshots_author ON snapshots(author);

		CREATE TABLE IF NOT EXISTS snapshot_tags (
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			tag         TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, tag)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshot_tags_tag ON snapshot_tags(tag);

		CREATE TABLE IF NOT EXISTS file_changes (
			snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			path        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_file_changes_snapshot ON file_changes(snapshot_id);

		CREATE TABLE IF NOT EXISTS file_index (
			path     TEXT PRIMARY KEY,
			size     INTEGER NOT NULL,
			mtime_ns INTEGER NOT NULL
		);
	`)
	return err
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save inserts rec. It fails with a *DuplicateKeyError if rec.ID is
// already present, leaving the existing row untouched. When index is
// non-nil it replaces the stored file index in the same transaction.
func (s *Store) Save(ctx context.Context, rec *Record, index map[string]IndexEntry) error {
	if rec.ID == "" {
		return errors.New("saving metadata: empty snapshot id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, rec.ID).Scan(&exists)
		if err == nil {
			return &DuplicateKeyError{ID: rec.ID}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking for existing metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (id, message, author, hostname, ts_ns, parent,
				added, modified, removed,
				files_new, files_changed, files_unmodified, data_added,
				total_files_processed, total_bytes_processed, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.Message, rec.Author, rec.Hostname, rec.Timestamp.UnixNano(), rec.Parent,
			rec.Changes.Added, rec.Changes.Modified, rec.Changes.Removed,
			rec.Stats.FilesNew, rec.Stats.FilesChanged, rec.Stats.FilesUnmodified, rec.Stats.DataAdded,
			rec.Stats.TotalFilesProcessed, rec.Stats.TotalBytesProcessed, int64(rec.Stats.Duration))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return &DuplicateKeyError{ID: rec.ID}
			}
			return fmt.Errorf("inserting metadata: %w", err)
		}

		for _, tag := range rec.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO snapshot_tags (snapshot_id, tag) VALUES (?, ?)`, rec.ID, tag); err != nil {
				return fmt.Errorf("inserting tag: %w", err)
			}
		}

		if len(rec.ChangedPaths) > 0 {
			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO file_changes (snapshot_id, path, kind, size) VALUES (?, ?, ?, ?)`)
			if err != nil {
				return fmt.Errorf("preparing change insert: %w", err)
			}
			defer stmt.Close()
			for _, c := range rec.ChangedPaths {
				if _, err := stmt.ExecContext(ctx, rec.ID, c.Path, string(c.Kind), c.Size); err != nil {
					return fmt.Errorf("inserting change: %w", err)
				}
			}
		}

		if index != nil {
			return replaceIndex(ctx, tx, index)
		}
		return nil
	})
}

func replaceIndex(ctx context.Context, tx *sql.Tx, index map[string]IndexEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_index`); err != nil {
		return fmt.Errorf("clearing file index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_index (path, size, mtime_ns) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing index insert: %w", err)
	}
	defer stmt.Close()
	for p, e := range index {
		if _, err := stmt.ExecContext(ctx, p, e.Size, e.ModTime.UnixNano()); err != nil {
			return fmt.Errorf("inserting index entry: %w", err)
		}
	}
	return nil
}

const selectRecord = `
	SELECT s.id, s.message, s.author, s.hostname, s.ts_ns, s.parent,
		s.added, s.modified, s.removed,
		s.files_new, s.files_changed, s.files_unmodified, s.data_added,
		s.total_files_processed, s.total_bytes_processed, s.duration_ns,
		COALESCE((SELECT group_concat(tag, char(31)) FROM snapshot_tags t WHERE t.snapshot_id = s.id), '')
	FROM snapshots s`

const newestFirst = ` ORDER BY s.ts_ns DESC, s.id ASC`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r        Record
		tsNS     int64
		duration int64
		tags     string
	)
	err := row.Scan(&r.ID, &r.Message, &r.Author, &r.Hostname, &tsNS, &r.Parent,
		&r.Changes.Added, &r.Changes.Modified, &r.Changes.Removed,
		&r.Stats.FilesNew, &r.Stats.FilesChanged, &r.Stats.FilesUnmodified, &r.Stats.DataAdded,
		&r.Stats.TotalFilesProcessed, &r.Stats.TotalBytesProcessed, &duration, &tags)
	if err != nil {
		return nil, err
	}
	r.Timestamp = time.Unix(0, tsNS).UTC()
	r.Stats.Duration = time.Duration(duration)
	if tags != "" {
		r.Tags = strings.Split(tags, "\x1f")
		sort.Strings(r.Tags)
	}
	return &r, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying metadata: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get returns one record including its changed paths.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata %s: %w", id, err)
	}

	changes, err := s.ChangedPaths(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ChangedPaths = changes
	return r, nil
}

// ChangedPaths returns the changes recorded with snapshot id, by path.
func (s *Store) ChangedPaths(ctx context.Context, id string) ([]FileChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, kind, size FROM file_changes WHERE snapshot_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var out []FileChange
	for rows.Next() {
		var c FileChange
		var kind string
		if err := rows.Scan(&c.Path, &kind, &c.Size); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		c.Kind = ChangeKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetRecent returns at most limit records, newest first.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.query(ctx, selectRecord+newestFirst+` LIMIT ?`, limit)
}

// All returns every record, newest first.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	return s.query(ctx, selectRecord+newestFirst)
}

// FindByTag returns every record carrying tag, newest first.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]Record, error) {
	return s.query(ctx, selectRecord+
		` WHERE EXISTS (SELECT 1 FROM snapshot_tags t WHERE t.snapshot_id = s.id AND t.tag = ?)`+newestFirst, tag)
}

// Search returns records whose message or any tag contains query,
// ignoring case, newest first. A limit of zero or less means no limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	var out []Record
	for _, r := range all {
		if !recordContains(&r, needle) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func recordContains(r *Record, needle string) bool {
	if strings.Contains(strings.ToLower(r.Message), needle) {
		return true
	}
	for _, t := range r.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// Log returns records matching f, newest first.
func (s *Store) Log(ctx context.Context, f Filter) ([]Record, error) {
	q := selectRecord
	var where []string
	var args []any
	if f.Author != "" {
		where = append(where, `s.author = ?`)
		args = append(args, f.Author)
	}
	if f.Tag != "" {
		where = append(where, `EXISTS (SELECT 1 FROM snapshot_tags t WHERE t.snapshot_id = s.id AND t.tag = ?)`)
		args = append(args, f.Tag)
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += newestFirst
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.query(ctx, q, args...)
}

// Delete removes the record for id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting metadata %s: %w", id, err)
		}
		return nil
	})
}

// Reconcile deletes every record whose id is not in external and returns
// how many were removed. Calling it again with the same set removes nothing.
func (s *Store) Reconcile(ctx context.Context, external map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		removed = 0
		rows, err := tx.QueryContext(ctx, `SELECT id FROM snapshots`)
		if err != nil {
			return fmt.Errorf("listing metadata: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning id: %w", err)
			}
			if !external[id] {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range stale {
			res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("deleting stale metadata %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// IDs returns every recorded identifier.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing metadata ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting metadata: %w", err)
	}
	return n, nil
}

// AuthorCounts returns the number of records per author.
func (s *Store) AuthorCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT author, COUNT(*) FROM snapshots GROUP BY author`)
	if err != nil {
		return nil, fmt.Errorf("counting authors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var author string
		var n int
		if err := rows.Scan(&author, &n); err != nil {
			return nil, err
		}
		out[author] = n
	}
	return out, rows.Err()
}

// Index returns the file index written by the most recent Save that
// supplied one.
func (s *Store) Index(ctx context.Context) (map[string]IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, size, mtime_ns FROM file_index`)
	if err != nil {
		return nil, fmt.Errorf("reading file index: %w", err)
	}
	defer rows.Close()

	out := make(map[string]IndexEntry)
	for rows.Next() {
		var p string
		var size, mtime int64
		if err := rows.Scan(&p, &size, &mtime); err != nil {
			return nil, err
		}
		out[p] = IndexEntry{Size: size, ModTime: time.Unix(0, mtime)}
	}
	return out, rows.Err()
}
