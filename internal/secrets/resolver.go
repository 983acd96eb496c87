// Package secrets turns a password_ref URI into the repository password.
//
// Supported schemes:
//
//	keychain://account          OS credential store
//	op://vault/item/field       1Password, via the op CLI
//	ssm://[region]/param/path   AWS SSM Parameter Store, via the aws CLI
//	awssm://[region]/secret-id  AWS Secrets Manager, via the AWS SDK
//
// Resolved values are returned to the caller and never logged or cached.
package secrets

import (
	"context"
	"sort"
	"strings"
)

// Resolver fetches secrets for one URI scheme.
type Resolver interface {
	// Scheme returns the URI scheme handled, without "://".
	Scheme() string

	// Resolve returns the secret named by the full reference.
	Resolve(ctx context.Context, reference string) (string, error)
}

// Registry dispatches references to resolvers by scheme.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry returns a registry holding rs. A later resolver replaces an
// earlier one with the same scheme.
func NewRegistry(rs ...Resolver) *Registry {
	reg := &Registry{resolvers: make(map[string]Resolver, len(rs))}
	for _, r := range rs {
		reg.resolvers[r.Scheme()] = r
	}
	return reg
}

// Default returns a registry with every built-in backend.
func Default() *Registry {
	return NewRegistry(
		NewKeychainResolver(nil),
		&OnePasswordResolver{},
		&SSMResolver{},
		&SecretsManagerResolver{},
	)
}

// Schemes lists the registered schemes in order.
func (reg *Registry) Schemes() []string {
	out := make([]string, 0, len(reg.resolvers))
	for s := range reg.resolvers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Resolve dispatches reference to the resolver for its scheme.
func (reg *Registry) Resolve(ctx context.Context, reference string) (string, error) {
	scheme := Scheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}
	r, ok := reg.resolvers[scheme]
	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme}
	}
	return r.Resolve(ctx, reference)
}

// Scheme returns the scheme of ref ("op" for "op://vault/item"), or "" when
// ref has none.
func Scheme(ref string) string {
	i := strings.Index(ref, "://")
	if i < 1 {
		return ""
	}
	return ref[:i]
}
