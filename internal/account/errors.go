package account

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrConflict              = errors.New("email already registered")
	ErrNotFound              = errors.New("verification token not found")
	ErrExpired               = errors.New("verification token expired")
	ErrAlreadyVerified       = errors.New("account already verified")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrNotVerified           = errors.New("account not verified")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrDispatchFailure       = errors.New("failed to send email")
	// ErrStoreUnavailable wraps every infrastructure failure of the store.
	ErrStoreUnavailable = errors.New("account store unavailable")
)

// code returns the stable machine code for err, "internal" for anything
// that is not a domain outcome.
func code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotVerified):
		return "not_verified"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_or_expired_token"
	case errors.Is(err, ErrDispatchFailure):
		return "dispatch_failure"
	default:
		return "internal"
	}
}
