// Package errs contains sentinel errors used across layers for stable error mapping.
//
// The sentinel text is display-ready: the HTTP layer returns it to the
// dashboard verbatim, so credential failures share one deliberately vague
// message.
package errs

import "errors"

var (
	// ErrValidation indicates malformed input the caller can correct.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound indicates the requested account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrConflict indicates a duplicate username or a no-op state change.
	ErrConflict = errors.New("conflict")

	// ErrProtectedAccount indicates an attempt to mutate the admin account.
	ErrProtectedAccount = errors.New("the admin account cannot be modified")

	// ErrInvalidCredentials covers both unknown username and wrong password,
	// so responses never reveal whether an account exists.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAccountDisabled indicates authentication against a disabled account.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrSubscriptionExpired indicates valid credentials on a lapsed plan.
	ErrSubscriptionExpired = errors.New("subscription has expired")

	// ErrPersistence indicates the record repository failed; in-memory state
	// has been rolled back where the operation already mutated it.
	ErrPersistence = errors.New("could not save changes, please try again")
)
