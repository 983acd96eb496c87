// Package keyring stores repository passwords in the operating system's
// credential store.
//
// Platform requirements:
//   - macOS: Keychain via the Security framework
//   - Linux: a Secret Service provider (GNOME Keyring, KWallet)
//   - Windows: Windows Credential Manager
//
// There is no file fallback. Hosts without a credential store should use
// password_file instead.
package keyring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// ServiceName is the default service under which entries are stored.
// STRATA_KEYRING_SERVICE overrides it so tests do not touch real entries.
const ServiceName = "strata"

// ErrNotFound is returned by Retrieve and Delete for an unknown account.
var ErrNotFound = errors.New("no keychain entry for account")

// NotFoundError names the account that has no entry.
type NotFoundError struct {
	Service string
	Account string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no keychain entry for %q (service %s)\n\n  Store one with: strata keychain store %s",
		e.Account, e.Service, e.Account)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Store is a handle on one keychain service.
type Store struct {
	service string
}

// New returns a store for the configured service.
func New() *Store {
	return &Store{service: serviceName()}
}

func serviceName() string {
	if name := os.Getenv("STRATA_KEYRING_SERVICE"); name != "" {
		return name
	}
	return ServiceName
}

// Service returns the keychain service name in use.
func (s *Store) Service() string { return s.service }

// Store saves secret under account, replacing any existing entry.
func (s *Store) Store(account, secret string) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	if secret == "" {
		return errors.New("refusing to store an empty secret")
	}
	if err := keyring.Set(s.service, account, secret); err != nil {
		return fmt.Errorf("writing keychain entry %q: %w", account, err)
	}
	return nil
}

// Retrieve returns the secret stored under account.
func (s *Store) Retrieve(account string) (string, error) {
	if err := checkAccount(account); err != nil {
		return "", err
	}
	secret, err := keyring.Get(s.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", &NotFoundError{Service: s.service, Account: account}
	}
	if err != nil {
		return "", fmt.Errorf("reading keychain entry %q: %w", account, err)
	}
	return secret, nil
}

// Delete removes the entry for account.
func (s *Store) Delete(account string) error {
	if err := checkAccount(account); err != nil {
		return err
	}
	err := keyring.Delete(s.service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return &NotFoundError{Service: s.service, Account: account}
	}
	if err != nil {
		return fmt.Errorf("deleting keychain entry %q: %w", account, err)
	}
	return nil
}

func checkAccount(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keychain account must not be empty")
	}
	return nil
}
