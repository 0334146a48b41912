package store

import "errors"

// Typed sentinels the dispatcher and matcher check with errors.Is, per the
// error-kind table the core distinguishes.
var (
	ErrUnknownClient      = errors.New("store: unknown client")
	ErrWrongPassword      = errors.New("store: wrong password")
	ErrUnknownAction      = errors.New("store: unknown action")
	ErrDuplicateName      = errors.New("store: name already in use")
	ErrInsufficientFunds  = errors.New("store: insufficient funds")
	ErrInsufficientShares = errors.New("store: insufficient shares")
)
