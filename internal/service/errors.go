package service

import (
	"errors"
	"fmt"
)

// Business and validation outcomes. Callers compare with errors.Is.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidPassword         = errors.New("invalid password")
	ErrAccountNotFound         = errors.New("account not found")
	ErrSourceNotFound          = errors.New("source account not found")
	ErrTargetNotFound          = errors.New("target account not found")
	ErrSameAccount             = errors.New("cannot transfer to the same account")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientSavings     = errors.New("insufficient savings funds")
	ErrNoBalanceForInterest    = errors.New("no balance to apply interest")
	ErrInvalidOldPassword      = errors.New("invalid old password")
	ErrAccountNumbersExhausted = errors.New("no free account number")
)

// ErrStorage marks a failure of the store itself. The operation it came
// from left no partial state behind.
var ErrStorage = errors.New("storage failure")

var outcomes = []struct {
	err    error
	reason string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidInput, "invalid_input"},
	{ErrInvalidPassword, "invalid_password"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrSourceNotFound, "source_not_found"},
	{ErrTargetNotFound, "target_not_found"},
	{ErrSameAccount, "same_account"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientSavings, "insufficient_savings"},
	{ErrNoBalanceForInterest, "no_balance_for_interest"},
	{ErrInvalidOldPassword, "invalid_old_password"},
	{ErrAccountNumbersExhausted, "account_numbers_exhausted"},
	{ErrStorage, "storage_failure"},
}

// Reason maps an operation's error onto a stable code: "ok" for nil,
// one code per outcome, and "storage_failure" for anything else.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.reason
		}
	}
	return "storage_failure"
}

// IsBusiness reports whether err is an expected validation or business outcome.
func IsBusiness(err error) bool {
	if err == nil || errors.Is(err, ErrStorage) {
		return false
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return true
		}
	}
	return false
}

// classify passes business outcomes through and wraps everything else in ErrStorage.
func classify(op string, err error) error {
	if err == nil || IsBusiness(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
