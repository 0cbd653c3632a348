package apperrors

import "errors"

// Standardized engine errors
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnknownCalculator    = errors.New("unknown calculator")
	ErrInvalidSnapshot      = errors.New("invalid state snapshot")
	ErrChecksumMismatch     = errors.New("checksum verification failed")
	ErrTraderNotFound       = errors.New("trader not found")
	ErrDuplicateTrader      = errors.New("duplicate trader")
	ErrInvalidPrice         = errors.New("invalid price")
)
