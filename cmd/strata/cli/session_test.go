package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/majorcontext/strata/internal/config"
	"github.com/majorcontext/strata/internal/credential/keyring"
	"github.com/majorcontext/strata/internal/engine"
)

func TestResolveCredentialsPasswordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	creds, err := resolveCredentials(context.Background(), &config.Config{PasswordFile: path})
	if err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if creds.PasswordFile != path || creds.Password != "" {
		t.Errorf("creds = %+v, want the file passed by path only", creds)
	}

	_, err = resolveCredentials(context.Background(), &config.Config{PasswordFile: path + ".missing"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}
}

func TestResolveCredentialsKeychain(t *testing.T) {
	gokeyring.MockInit()
	t.Setenv("STRATA_KEYRING_SERVICE", "strata-test")
	if err := keyring.New().Store("docs", "s3cret"); err != nil {
		t.Fatal(err)
	}

	creds, err := resolveCredentials(context.Background(), &config.Config{KeychainAccount: "docs"})
	if err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if creds != (engine.Credentials{Password: "s3cret"}) {
		t.Errorf("creds = %+v", creds)
	}

	_, err = resolveCredentials(context.Background(), &config.Config{KeychainAccount: "other"})
	if !errors.Is(err, keyring.ErrNotFound) {
		t.Errorf("unknown account: err = %v, want keyring.ErrNotFound", err)
	}
}

func TestResolveCredentialsPasswordRef(t *testing.T) {
	gokeyring.MockInit()
	t.Setenv("STRATA_KEYRING_SERVICE", "strata-test")
	if err := keyring.New().Store("ref-account", "from-ref"); err != nil {
		t.Fatal(err)
	}

	creds, err := resolveCredentials(context.Background(), &config.Config{PasswordRef: "keychain://ref-account"})
	if err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if creds.Password != "from-ref" {
		t.Errorf("Password = %q, want from-ref", creds.Password)
	}

	_, err = resolveCredentials(context.Background(), &config.Config{PasswordRef: "vault://x"})
	if err == nil || !strings.Contains(err.Error(), "password_ref") {
		t.Errorf("unsupported scheme: err = %v", err)
	}
}

func TestResolveCredentialsNone(t *testing.T) {
	if _, err := resolveCredentials(context.Background(), &config.Config{}); err == nil {
		t.Error("expected an error with no password source")
	}
}
