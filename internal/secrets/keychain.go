package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/majorcontext/strata/internal/credential/keyring"
)

// KeychainStore is the lookup half of the credential store.
type KeychainStore interface {
	Retrieve(account string) (string, error)
}

// KeychainResolver reads keychain://account references from the OS
// credential store.
type KeychainResolver struct {
	store KeychainStore
}

// NewKeychainResolver returns a resolver over store, or over the default
// keychain service when store is nil.
func NewKeychainResolver(store KeychainStore) *KeychainResolver {
	if store == nil {
		store = keyring.New()
	}
	return &KeychainResolver{store: store}
}

// Scheme returns "keychain".
func (r *KeychainResolver) Scheme() string { return "keychain" }

// Resolve returns the secret stored for the account in reference.
func (r *KeychainResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	account, ok := strings.CutPrefix(reference, "keychain://")
	if !ok || account == "" || strings.Contains(account, "/") {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected keychain://account"}
	}
	secret, err := r.store.Retrieve(account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", &NotFoundError{
			Reference: reference,
			Backend:   "keychain",
			Fix:       "Store it with: strata keychain store " + account,
		}
	}
	if err != nil {
		return "", &BackendError{Backend: "keychain", Reference: reference, Reason: err.Error(), Err: err}
	}
	return secret, nil
}
