package billing

import "fmt"

// ValidationError marks malformed client input (missing price id, bad JSON).
// Handlers map it to HTTP 400.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// AuthenticationError marks a missing, invalid or stale webhook signature.
// The webhook handler maps it to HTTP 400 and must not process the payload.
type AuthenticationError struct {
	Msg string
}

func (e *AuthenticationError) Error() string { return e.Msg }

// ProviderError wraps a failed or malformed response from the Stripe API.
// The response body is kept for diagnostics. Handlers map it to HTTP 502.
type ProviderError struct {
	Op  string
	Msg string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stripe %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("stripe %s: %s", e.Op, e.Msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConflictError marks a duplicate ledger insert race. It is absorbed
// internally as a successful no-op and never reaches a caller.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// NotFoundError marks an operation that requires a customer link which does
// not exist, e.g. a portal session for a user who never checked out.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }
