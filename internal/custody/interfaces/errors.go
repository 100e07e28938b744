package interfaces

import "errors"

// Engine error taxonomy. Services wrap these with fmt.Errorf("...: %w", err)
// so callers can classify failures with errors.Is while keeping context.
var (
	// ErrValidation covers malformed input: bad address syntax, label length,
	// non-positive amounts, unsupported asset/chain combinations.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateAddress is returned when an active address with the same
	// (user, address, asset) tuple already exists.
	ErrDuplicateAddress = errors.New("address already whitelisted")

	// ErrInvalidToken is returned when a verification token cannot be resolved
	// or has already been consumed.
	ErrInvalidToken = errors.New("invalid verification token")

	// ErrTokenExpired is returned when a token is redeemed after its expiry.
	ErrTokenExpired = errors.New("verification token expired")

	// ErrUnauthorized is returned when the caller does not own the entity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the entity does not exist or belongs to
	// another user; the two cases are indistinguishable to the caller.
	ErrNotFound = errors.New("not found")

	// ErrNotVerified is returned when an unverified address is promoted.
	ErrNotVerified = errors.New("address not verified")

	// ErrAddressNotEligible is returned when a withdrawal targets an address
	// that is unverified or deactivated.
	ErrAddressNotEligible = errors.New("address not eligible for withdrawal")

	// ErrInsufficientAmount is returned when the fee would consume the whole
	// requested amount or more.
	ErrInsufficientAmount = errors.New("amount does not cover the withdrawal fee")

	// ErrInvalid2FACode is returned when the second-factor check fails.
	ErrInvalid2FACode = errors.New("invalid 2FA code")

	// ErrProviderUnavailable classifies transport-level settlement failures
	// (network errors, timeouts). Retryable by an operator.
	ErrProviderUnavailable = errors.New("custody provider unavailable")

	// ErrProviderRejected classifies provider-level payout rejections. Not
	// retryable without operator intervention.
	ErrProviderRejected = errors.New("custody provider rejected payout")
)
