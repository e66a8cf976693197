package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNoQuote        = errors.New("no quote available")
	ErrBadQuote       = errors.New("invalid quote data")
	ErrQueueEmpty     = errors.New("queue empty")
	ErrStreamDisabled = errors.New("streaming permanently disabled")
	ErrAuthFailed     = errors.New("feed authentication failed")
	ErrOrderRejected  = errors.New("order rejected")
	ErrLockHeld       = errors.New("lock already held")
)
