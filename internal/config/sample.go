package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sample is the commented document written by `strata init-config`.
const Sample = `# strata repository configuration.

# Identifies this repository in ~/.strata/repos/<name>.
name: documents

# Directories to back up. Relative paths are resolved against this file.
source_paths:
  - ~/Documents

# Restic repository: a local path or a backend URL such as s3:... or sftp:...
repository: ~/backups/documents

# Exactly one password source:
password_file: ~/.strata/documents.pass
# keychain_account: documents        # stored with: strata keychain store documents
# password_ref: op://Private/restic/password

# Passed to restic forget. Zero disables a rule.
retention:
  keep_last: 10
  keep_hourly: 24
  keep_daily: 7
  keep_weekly: 4
  keep_monthly: 12
  keep_yearly: 5

# gitignore-style patterns. Per-directory .strataignore files override these.
exclude_patterns:
  - "*.tmp"
  - "*.log"
  - .DS_Store
  - node_modules/
  - __pycache__/
include_patterns: []
use_gitignore: false

# Daemon settings.
schedule: 1h
forget_after_schedule: false
monitor:
  enabled: false
  debounce: 30s
  threshold: 50
`

// WriteSample writes Sample to path. It refuses to overwrite an existing
// file unless force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(Sample), 0o644)
}
