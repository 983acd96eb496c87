package secrets

import "fmt"

// UnsupportedSchemeError is returned for a reference whose scheme has no
// registered resolver.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported password_ref scheme %q (supported: keychain, op, ssm, awssm)", e.Scheme)
}

// InvalidReferenceError reports a malformed reference.
type InvalidReferenceError struct {
	Reference string
	Reason    string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid password_ref %q: %s", e.Reference, e.Reason)
}

// NotFoundError means the backend answered but holds no such secret.
type NotFoundError struct {
	Reference string
	Backend   string
	Fix       string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("password not found: %s", e.Reference)
	if e.Backend != "" {
		msg = fmt.Sprintf("password not found in %s: %s", e.Backend, e.Reference)
	}
	if e.Fix != "" {
		msg += "\n\n  " + e.Fix
	}
	return msg
}

// BackendError is any other failure talking to a backend. Fix, when set,
// tells the user what to run next.
type BackendError struct {
	Backend   string
	Reference string
	Reason    string
	Fix       string
	Err       error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Reason)
	if e.Fix != "" {
		msg += "\n\n  " + e.Fix
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }
