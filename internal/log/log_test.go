package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit_FileLogging(t *testing.T) {
	dir := t.TempDir()
	if err := Init(Options{DebugDir: dir, Stderr: &bytes.Buffer{}}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("snapshot recorded", "snapshot_id", "aaa111")
	Close()

	content, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".jsonl"))
	if err != nil {
		t.Fatalf("reading debug file: %v", err)
	}
	if !strings.Contains(string(content), "snapshot recorded") {
		t.Errorf("debug file missing record: %s", content)
	}
}

func TestInit_StderrLevels(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		wantDebug   bool
		wantWarning bool
	}{
		{"default", Options{}, false, true},
		{"verbose", Options{Verbose: true}, true, true},
		{"verbose interactive", Options{Verbose: true, Interactive: true}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			tt.opts.Stderr = &stderr
			if err := Init(tt.opts); err != nil {
				t.Fatalf("Init: %v", err)
			}
			defer Close()

			Debug("debug line")
			Warn("warn line")

			out := stderr.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug visible = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(out, "warn line"); got != tt.wantWarning {
				t.Errorf("warn visible = %v, want %v", got, tt.wantWarning)
			}
		})
	}
}

func TestInit_JSONFormat(t *testing.T) {
	var stderr bytes.Buffer
	if err := Init(Options{JSONFormat: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Warn("lock held", "repo", "/srv/restic")
	if !strings.Contains(stderr.String(), `"msg":"lock held"`) {
		t.Errorf("expected JSON record, got %q", stderr.String())
	}
}

func TestOperationID(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	SetOperationID("op_1234abcd")
	Info("backing up")
	ClearOperationID()
	Info("idle")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "op_id=op_1234abcd") {
		t.Errorf("first line missing op_id: %s", lines[0])
	}
	if strings.Contains(lines[1], "op_id") {
		t.Errorf("op_id should be cleared: %s", lines[1])
	}
}
