package domain

import "errors"

var (
	// ErrTokenNotFound is returned when no prescription with the given asset ID exists
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenAlreadyDispensed is returned when a burn is attempted on a dispensed token.
	// Double-dispense attempts must be observably rejected, never silently ignored.
	ErrTokenAlreadyDispensed = errors.New("token already dispensed")

	// ErrTokenExpired is returned when a burn or cancel is attempted on an expired token
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenCancelled is returned when a burn is attempted on a cancelled token
	ErrTokenCancelled = errors.New("token cancelled")

	// ErrDuplicateAssetID indicates an attempt to insert a prescription with an
	// asset ID that is already on the ledger. This is a programmer error in the
	// engine, not a user-facing condition.
	ErrDuplicateAssetID = errors.New("duplicate asset id")
)
