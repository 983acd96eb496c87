package secrets

import (
	"context"
	"errors"
	"strings"
)

const onePasswordBackend = "1Password"

// OnePasswordResolver reads op:// references with `op read`.
type OnePasswordResolver struct {
	run commandRunner
}

// Scheme returns "op".
func (r *OnePasswordResolver) Scheme() string { return "op" }

// Resolve returns the field named by reference.
func (r *OnePasswordResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(strings.Split(strings.TrimPrefix(reference, "op://"), "/")) < 3 {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected op://vault/item/field"}
	}

	run := r.run
	if run == nil {
		run = runCommand
	}
	stdout, stderr, err := run(ctx, "op", "read", "--no-newline", reference)
	if errors.Is(err, errCLIMissing) {
		return "", &BackendError{
			Backend:   onePasswordBackend,
			Reference: reference,
			Reason:    "op CLI not found in PATH",
			Fix:       "Install it from https://1password.com/downloads/command-line/ and run: op signin",
		}
	}
	if err != nil {
		return "", r.parseError(stderr, reference)
	}
	return trimValue(stdout), nil
}

var onePasswordRules = []errorRule{
	{
		match: []string{"not currently signed in", "not signed in"},
		build: func(ref string) error {
			return &BackendError{
				Backend:   onePasswordBackend,
				Reference: ref,
				Reason:    "not signed in",
				Fix:       "Run: eval $(op signin)\n  For unattended backups set OP_SERVICE_ACCOUNT_TOKEN.",
			}
		},
	},
	{
		match: []string{"isn't a vault"},
		build: func(ref string) error {
			vault := strings.SplitN(strings.TrimPrefix(ref, "op://"), "/", 2)[0]
			return &BackendError{
				Backend:   onePasswordBackend,
				Reference: ref,
				Reason:    "vault not found or not accessible",
				Fix:       "Vault \"" + vault + "\" is not visible to this account. List vaults with: op vault list",
			}
		},
	},
	{
		match: []string{"isn't an item", "could not be found", "isn't a field"},
		build: func(ref string) error {
			return &NotFoundError{Reference: ref, Backend: onePasswordBackend}
		},
	},
}

func (r *OnePasswordResolver) parseError(stderr []byte, reference string) error {
	if err := classify(onePasswordRules, stderr, reference); err != nil {
		return err
	}
	return &BackendError{
		Backend:   onePasswordBackend,
		Reference: reference,
		Reason:    strings.TrimSpace(string(stderr)),
	}
}
