package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func captureMessages(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	SetColorEnabled(false)
	t.Cleanup(func() { SetWriter(nil) })
	return &buf
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name string
		emit func()
		want string
	}{
		{"Warn", func() { Warn("repository is locked") }, "Warning: repository is locked\n"},
		{"Warnf", func() { Warnf("%d snapshots untracked", 3) }, "Warning: 3 snapshots untracked\n"},
		{"Error", func() { Error("backup failed") }, "Error: backup failed\n"},
		{"Errorf", func() { Errorf("exit code %d", 3) }, "Error: exit code 3\n"},
		{"Info", func() { Info("snapshot created") }, "snapshot created\n"},
		{"Infof", func() { Infof("run: strata %s", "unlock") }, "run: strata unlock\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureMessages(t)
			tt.emit()
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestColoredPrefixes(t *testing.T) {
	buf := captureMessages(t)
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	Warn("w")
	Error("e")
	want := "\033[33mWarning:\033[0m w\n\033[31mError:\033[0m e\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestColorFunctions(t *testing.T) {
	fns := map[string]struct {
		fn   func(string) string
		code string
	}{
		"Bold": {Bold, "1"}, "Dim": {Dim, "2"}, "Green": {Green, "32"},
		"Red": {Red, "31"}, "Yellow": {Yellow, "33"}, "Cyan": {Cyan, "36"},
	}
	for name, tt := range fns {
		t.Run(name, func(t *testing.T) {
			SetColorEnabled(true)
			if got, want := tt.fn("x"), "\033["+tt.code+"mx\033[0m"; got != want {
				t.Errorf("colored = %q, want %q", got, want)
			}
			SetColorEnabled(false)
			if got := tt.fn("x"); got != "x" {
				t.Errorf("plain = %q, want x", got)
			}
		})
	}
}

func TestTags(t *testing.T) {
	SetColorEnabled(false)
	for got, want := range map[string]string{OKTag(): "✓", FailTag(): "✗", WarnTag(): "⚠", InfoTag(): "ℹ"} {
		if got != want {
			t.Errorf("tag = %q, want %q", got, want)
		}
	}
}

func TestNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if isColorTerminal(f) {
		t.Error("NO_COLOR must disable color")
	}
	if IsTerminal(f) {
		t.Error("a regular file is not a terminal")
	}
}

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		in   ProgressStat
		want string
	}{
		{ProgressStat{}, "  0%"},
		{ProgressStat{Percent: 0.42, FilesDone: 1024, TotalFiles: 5000}, " 42%  1,024/5,000 files"},
		{ProgressStat{Percent: 1, BytesDone: 2_000_000, TotalBytes: 8_000_000}, "100%  2.0 MB/8.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatProgress(tt.in); got != tt.want {
			t.Errorf("FormatProgress(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressThrottlesRedirectedOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	p.Update(ProgressStat{Percent: 0.1})
	p.Update(ProgressStat{Percent: 0.2})
	clock = clock.Add(11 * time.Second)
	p.Update(ProgressStat{Percent: 0.5})
	p.Done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines %q, want 2", len(lines), lines)
	}
	if strings.Contains(buf.String(), "\r") {
		t.Error("redirected output must not contain carriage returns")
	}
	if lines[1] != " 50%" {
		t.Errorf("second line = %q", lines[1])
	}
}
