package secrets

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// commandRunner runs a CLI and returns its stdout and stderr. Tests swap
// it out.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, nil, errCLIMissing
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

var errCLIMissing = errors.New("executable not found in PATH")

// errorRule maps a stderr fragment to an actionable error.
type errorRule struct {
	match []string
	build func(reference string) error
}

func classify(rules []errorRule, stderr []byte, reference string) error {
	msg := string(stderr)
	for _, r := range rules {
		for _, m := range r.match {
			if strings.Contains(msg, m) {
				return r.build(reference)
			}
		}
	}
	return nil
}

// trimValue strips the trailing newline CLIs print after a value.
func trimValue(out []byte) string {
	return strings.TrimRight(string(out), "\r\n")
}
