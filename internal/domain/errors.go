package domain

import "errors"

var (
	// ErrSourceUnavailable the interval source could not be reached or answered with an error.
	// Refresh aborts and no state is mutated.
	ErrSourceUnavailable = errors.New("interval source unavailable")

	// ErrInvalidCursor the stored sync cursor was rejected; recover with a full refetch.
	ErrInvalidCursor = errors.New("invalid sync cursor")

	// ErrPersistenceFailure a store write failed; the transaction was rolled back.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrInvalidSettings rejected settings input.
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrInvalidDayID a day id that does not match YYYY-MM-DD@anchor<H>.
	ErrInvalidDayID = errors.New("invalid day id")
)
