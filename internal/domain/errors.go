package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Execution failure classes. The first three abort the retry loop.
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateSubmission = errors.New("submission already processed")
	ErrStaleParameters     = errors.New("stale submission parameters")
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	ErrPriceUnavailable = errors.New("price unavailable")
	ErrTradingPaused    = errors.New("trading paused")
	ErrTerminalTrade    = errors.New("trade record already terminal")
	ErrPersistence      = errors.New("persistence failure")
)
