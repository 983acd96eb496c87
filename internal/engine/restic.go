package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/majorcontext/strata/internal/log"
)

// DefaultBinary is the restic executable looked up on PATH.
const DefaultBinary = "restic"

// interruptGrace is how long restic gets to release its locks after
// SIGINT before it is killed.
const interruptGrace = 15 * time.Second

// Config locates a restic repository.
type Config struct {
	Binary      string
	Repository  string
	Credentials Credentials
	// ExtraEnv is passed through to every restic process, e.g. backend
	// credentials such as AWS_ACCESS_KEY_ID.
	ExtraEnv map[string]string
}

// Restic drives the restic CLI. Each operation is one subprocess.
type Restic struct {
	cfg Config
}

var _ Engine = (*Restic)(nil)

// NewRestic returns an adapter for cfg.
func NewRestic(cfg Config) (*Restic, error) {
	if cfg.Repository == "" {
		return nil, errors.New("restic: repository is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	return &Restic{cfg: cfg}, nil
}

// env builds the child environment. Inherited restic settings are dropped
// so the configured repository and password always apply.
func (r *Restic) env() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "RESTIC_REPOSITORY") || strings.HasPrefix(kv, "RESTIC_PASSWORD") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "RESTIC_REPOSITORY="+r.cfg.Repository)
	switch {
	case r.cfg.Credentials.PasswordFile != "":
		env = append(env, "RESTIC_PASSWORD_FILE="+r.cfg.Credentials.PasswordFile)
	case r.cfg.Credentials.Password != "":
		env = append(env, "RESTIC_PASSWORD="+r.cfg.Credentials.Password)
	}

	keys := make([]string, 0, len(r.cfg.ExtraEnv))
	for k := range r.cfg.ExtraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.cfg.ExtraEnv[k])
	}
	return env
}

func (r *Restic) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.cfg.Binary, args...)
	cmd.Env = r.env()
	// restic removes its own lock on SIGINT; a hard kill would leave it
	// behind.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = interruptGrace
	log.Debug("running restic", "args", args, "repository", r.cfg.Repository, "credentials", r.cfg.Credentials)
	return cmd
}

// run executes one restic command and returns its stdout.
func (r *Restic) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	cmd := r.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), r.failure(ctx, op, err, stderr.String())
	}
	log.Debug("restic finished", "op", op)
	return stdout.Bytes(), nil
}

// failure converts a failed run into the error taxonomy. Lock contention
// is recognized by restic's dedicated exit code only.
func (r *Restic) failure(ctx context.Context, op string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("restic %s interrupted: %w", op, ctxErr)
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return fmt.Errorf("running restic %s: %w", op, err)
	}
	exit := &ExitError{Op: op, Code: ee.ExitCode(), Stderr: stderr}
	log.Debug("restic failed", "op", op, "exit_code", exit.Code)
	if exit.Code == exitLockFailed {
		return &LockHeldError{Op: op, Err: exit}
	}
	return exit
}

// Backup runs `restic backup --json` and streams progress to req.Progress.
func (r *Restic) Backup(ctx context.Context, req BackupRequest) (*BackupResult, error) {
	if len(req.Paths) == 0 {
		return nil, errors.New("restic backup: no source paths")
	}

	args := []string{"backup", "--json"}
	if len(req.Excludes) > 0 {
		name, err := writeExcludeFile(req.Excludes)
		if err != nil {
			return nil, err
		}
		defer os.Remove(name)
		args = append(args, "--exclude-file", name)
	}
	for _, t := range req.Tags {
		args = append(args, "--tag", t)
	}
	if req.Host != "" {
		args = append(args, "--host", req.Host)
	}
	args = append(args, req.Paths...)

	cmd := r.command(ctx, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("restic backup: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting restic backup: %w", err)
	}
	res, parseErr := parseBackupStream(stdout, req.Progress)
	// Drain so restic never blocks on a full pipe after a parse error.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if waitErr != nil {
		err := r.failure(ctx, "backup", waitErr, stderr.String())
		var exit *ExitError
		if errors.As(err, &exit) && !IsLockHeld(err) {
			bf := &BackupFailedError{Exit: exit}
			if exit.Code == exitIncomplete && res != nil {
				bf.SnapshotID = res.SnapshotID
			}
			return nil, bf
		}
		return nil, err
	}
	if parseErr != nil {
		return nil, fmt.Errorf("reading restic backup output: %w", parseErr)
	}
	if res.SnapshotID == "" {
		return nil, &BackupFailedError{Exit: &ExitError{Op: "backup", Stderr: "no snapshot id in restic summary"}}
	}
	return res, nil
}

// writeExcludeFile writes one exact-path pattern per line. restic expands
// $VARS in exclude files and treats glob metacharacters specially, so both
// are escaped.
func writeExcludeFile(paths []string) (string, error) {
	f, err := os.CreateTemp("", "strata-exclude-*")
	if err != nil {
		return "", fmt.Errorf("creating exclude file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, p := range paths {
		if p != strings.TrimSpace(p) || strings.ContainsAny(p, "\r\n") {
			// restic trims lines; such names cannot be expressed.
			log.Warn("cannot exclude path with surrounding whitespace", "path", p)
			continue
		}
		w.WriteString(escapePattern(p))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing exclude file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing exclude file: %w", err)
	}
	return f.Name(), nil
}

func escapePattern(p string) string {
	var b strings.Builder
	for _, c := range p {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		case '$':
			b.WriteByte('$')
		}
		b.WriteRune(c)
	}
	return b.String()
}

type backupMessage struct {
	MessageType string `json:"message_type"`

	// status
	PercentDone float64 `json:"percent_done"`
	TotalFiles  int     `json:"total_files"`
	FilesDone   int     `json:"files_done"`
	TotalBytes  int64   `json:"total_bytes"`
	BytesDone   int64   `json:"bytes_done"`

	// summary
	FilesNew            int     `json:"files_new"`
	FilesChanged        int     `json:"files_changed"`
	FilesUnmodified     int     `json:"files_unmodified"`
	DataAdded           int64   `json:"data_added"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          string  `json:"snapshot_id"`

	// error
	Error  json.RawMessage `json:"error"`
	During string          `json:"during"`
	Item   string          `json:"item"`
}

// parseBackupStream consumes restic's line-delimited JSON. Lines that are
// not JSON objects are ignored.
func parseBackupStream(rd io.Reader, progress func(Progress)) (*BackupResult, error) {
	res := &BackupResult{}
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg backupMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Debug("skipping malformed restic output line", "error", err)
			continue
		}
		switch msg.MessageType {
		case "status":
			if progress != nil {
				progress(Progress{
					PercentDone: msg.PercentDone,
					FilesDone:   msg.FilesDone,
					TotalFiles:  msg.TotalFiles,
					BytesDone:   msg.BytesDone,
					TotalBytes:  msg.TotalBytes,
				})
			}
		case "summary":
			res.SnapshotID = msg.SnapshotID
			res.FilesNew = msg.FilesNew
			res.FilesChanged = msg.FilesChanged
			res.FilesUnmodified = msg.FilesUnmodified
			res.DataAdded = msg.DataAdded
			res.TotalFilesProcessed = msg.TotalFilesProcessed
			res.TotalBytesProcessed = msg.TotalBytesProcessed
			res.Duration = time.Duration(msg.TotalDuration * float64(time.Second))
		case "error":
			res.Warnings = append(res.Warnings, formatBackupError(msg))
		}
	}
	return res, sc.Err()
}

// formatBackupError accepts both the object and the plain-string error
// encodings restic has used.
func formatBackupError(msg backupMessage) string {
	var text string
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Error, &obj); err == nil && obj.Message != "" {
		text = obj.Message
	} else if err := json.Unmarshal(msg.Error, &text); err != nil {
		text = string(msg.Error)
	}
	if msg.Item != "" {
		return msg.Item + ": " + text
	}
	return text
}

type resticSnapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Tags     []string  `json:"tags"`
	Paths    []string  `json:"paths"`
	Hostname string    `json:"hostname"`
	Username string    `json:"username"`
	Summary  *struct {
		TotalBytesProcessed int64 `json:"total_bytes_processed"`
	} `json:"summary"`
}

// Snapshots lists snapshots without taking a repository lock.
func (r *Restic) Snapshots(ctx context.Context) ([]Snapshot, error) {
	out, err := r.run(ctx, "snapshots", "snapshots", "--json", "--no-lock")
	if err != nil {
		return nil, err
	}
	return parseSnapshots(out)
}

func parseSnapshots(data []byte) ([]Snapshot, error) {
	var raw []resticSnapshot
	if err := json.Unmarshal(bytes.TrimSpace(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing restic snapshot list: %w", err)
	}
	snaps := make([]Snapshot, 0, len(raw))
	for _, s := range raw {
		snap := Snapshot{
			ID:       s.ID,
			ShortID:  s.ShortID,
			Time:     s.Time,
			Tags:     s.Tags,
			Paths:    s.Paths,
			Hostname: s.Hostname,
			Username: s.Username,
		}
		if s.Summary != nil {
			snap.Size = s.Summary.TotalBytesProcessed
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Restore runs `restic restore`. The target must be writable.
func (r *Restic) Restore(ctx context.Context, req RestoreRequest) error {
	if req.SnapshotID == "" || req.Target == "" {
		return errors.New("restic restore: snapshot id and target are required")
	}
	args := []string{"restore", req.SnapshotID, "--target", req.Target}
	for _, p := range req.Include {
		args = append(args, "--include", p)
	}
	if req.Verify {
		args = append(args, "--verify")
	}
	if _, err := r.run(ctx, "restore", args...); err != nil {
		if IsLockHeld(err) {
			return err
		}
		return &RestoreFailedError{SnapshotID: req.SnapshotID, Target: req.Target, Err: err}
	}
	return nil
}

// Forget applies policy and prunes unreferenced data. With dryRun nothing
// in the repository changes.
func (r *Restic) Forget(ctx context.Context, policy Retention, dryRun bool) ([]string, error) {
	if policy.IsZero() {
		return nil, errors.New("restic forget: retention policy keeps nothing; refusing to remove every snapshot")
	}
	args := append([]string{"forget", "--json"}, policy.Args()...)
	if dryRun {
		args = append(args, "--dry-run")
	} else {
		args = append(args, "--prune")
	}
	out, err := r.run(ctx, "forget", args...)
	if err != nil {
		return nil, err
	}
	return parseForget(out)
}

// parseForget reads the first JSON value of forget output; prune appends
// plain text after it.
func parseForget(data []byte) ([]string, error) {
	var groups []struct {
		Remove []struct {
			ID string `json:"id"`
		} `json:"remove"`
	}
	start := bytes.IndexByte(data, '[')
	if start < 0 {
		return nil, nil
	}
	if err := json.NewDecoder(bytes.NewReader(data[start:])).Decode(&groups); err != nil {
		return nil, fmt.Errorf("parsing restic forget output: %w", err)
	}
	var ids []string
	for _, g := range groups {
		for _, s := range g.Remove {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// Verify runs `restic check`. A check that completes and finds damage is
// an unhealthy report, not an error.
func (r *Restic) Verify(ctx context.Context, opts VerifyOptions) (*HealthReport, error) {
	args, err := checkArgs(opts)
	if err != nil {
		return nil, err
	}
	mode := opts.Mode
	if mode == "" {
		mode = CheckStructure
	}

	start := time.Now()
	out, err := r.run(ctx, "check", args...)
	rep := &HealthReport{Mode: mode, Duration: time.Since(start), Healthy: err == nil}
	if err == nil {
		return rep, nil
	}

	var exit *ExitError
	if !errors.As(err, &exit) || IsLockHeld(err) || exit.Code != exitFatal {
		return nil, err
	}
	for _, line := range strings.Split(exit.Stderr+"\n"+string(out), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			rep.Errors = append(rep.Errors, s)
		}
	}
	return rep, nil
}

func checkArgs(opts VerifyOptions) ([]string, error) {
	args := []string{"check"}
	switch opts.Mode {
	case "", CheckStructure:
	case CheckPartial:
		pct := opts.SubsetPercent
		if pct == 0 {
			pct = 10
		}
		if pct < 1 || pct > 100 {
			return nil, fmt.Errorf("subset percentage must be between 1 and 100, got %d", pct)
		}
		args = append(args, "--read-data-subset="+strconv.Itoa(pct)+"%")
	case CheckFull:
		args = append(args, "--read-data")
	default:
		return nil, fmt.Errorf("unknown verify mode %q", opts.Mode)
	}
	return args, nil
}

// Unlock removes stale locks.
func (r *Restic) Unlock(ctx context.Context) error {
	_, err := r.run(ctx, "unlock", "unlock")
	return err
}

// Stats reports the repository's stored size.
func (r *Restic) Stats(ctx context.Context) (*RepoStats, error) {
	out, err := r.run(ctx, "stats", "stats", "--json", "--no-lock", "--mode", "raw-data")
	if err != nil {
		return nil, err
	}
	var st RepoStats
	if err := json.Unmarshal(bytes.TrimSpace(out), &st); err != nil {
		return nil, fmt.Errorf("parsing restic stats: %w", err)
	}
	return &st, nil
}

// Init creates the repository.
func (r *Restic) Init(ctx context.Context) error {
	_, err := r.run(ctx, "init", "init")
	return err
}

// Exists reports whether the repository has been initialized.
func (r *Restic) Exists(ctx context.Context) (bool, error) {
	_, err := r.run(ctx, "cat", "cat", "config", "--no-lock")
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrRepositoryNotFound) {
		return false, nil
	}
	return false, err
}

// ResticVersion reports the version of the restic binary at bin without
// needing a repository.
func ResticVersion(ctx context.Context, bin string) (string, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	return (&Restic{cfg: Config{Binary: bin}}).Version(ctx)
}

// Version returns the first line of `restic version`.
func (r *Restic) Version(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "version", "version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}
