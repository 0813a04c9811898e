package accounts

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound        = errors.New("accounts: user not found")
	ErrInsufficientCredits = errors.New("accounts: insufficient credits")
	ErrNotVerified         = errors.New("accounts: channel membership not verified")
	ErrKeyNotFound         = errors.New("accounts: key not found")
	ErrAlreadyBanned       = errors.New("accounts: user already banned")
	ErrNotBanned           = errors.New("accounts: user not banned")
	ErrAdminTarget         = errors.New("accounts: admins cannot be banned")
	ErrInvalidAmount       = errors.New("accounts: amount must be positive")
)

// InsufficientCreditsError reports the cost that could not be covered.
type InsufficientCreditsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("accounts: insufficient credits: need %s, have %s", e.Required.StringFixed(1), e.Available.StringFixed(1))
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// Code implements the handler summary error code lookup.
func (e *InsufficientCreditsError) Code() string { return "insufficient_credits" }
