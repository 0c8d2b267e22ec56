package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrInvalidLimit  = errors.New("invalid decisions limit")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrStorage       = errors.New("storage operation failed")
)
