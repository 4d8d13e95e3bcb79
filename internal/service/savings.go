package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// Save moves amt from the main balance into savings.
func (l *Ledger) Save(ctx context.Context, number string, amt decimal.Decimal) error {
	const op = "save"
	attrs := []any{"account", number, "amount", amt.String()}
	if !validAmount(amt) {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidAmount)
	}
	return l.execute(ctx, op, attrs, func(u *unit) error {
		acc, err := u.lock(ctx, number, ErrAccountNotFound)
		if err != nil {
			return err
		}
		if acc.Balance.LessThan(amt) {
			return ErrInsufficientFunds
		}
		if err := u.setBalances(ctx, number, acc.Balance.Sub(amt), acc.SavingsBalance.Add(amt)); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindSaveInvest, amt, "")
	})
}

// WithdrawSavings moves amt from savings back into the main balance.
func (l *Ledger) WithdrawSavings(ctx context.Context, number string, amt decimal.Decimal) error {
	const op = "withdraw_savings"
	attrs := []any{"account", number, "amount", amt.String()}
	if !validAmount(amt) {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidAmount)
	}
	return l.execute(ctx, op, attrs, func(u *unit) error {
		acc, err := u.lock(ctx, number, ErrAccountNotFound)
		if err != nil {
			return err
		}
		if acc.SavingsBalance.LessThan(amt) {
			return ErrInsufficientSavings
		}
		if err := u.setBalances(ctx, number, acc.Balance.Add(amt), acc.SavingsBalance.Sub(amt)); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindWithdrawSavings, amt, "")
	})
}

// ApplyInterest credits savings with savings*rate, rounded half-up to cents,
// and returns the interest credited. Only the interest is logged.
func (l *Ledger) ApplyInterest(ctx context.Context, number string) (decimal.Decimal, error) {
	const op = "apply_interest"
	var interest decimal.Decimal
	err := l.execute(ctx, op, []any{"account", number}, func(u *unit) error {
		acc, err := u.lock(ctx, number, ErrAccountNotFound)
		if err != nil {
			return err
		}
		if !acc.SavingsBalance.IsPositive() {
			return ErrNoBalanceForInterest
		}
		interest = acc.SavingsBalance.Mul(l.opts.InterestRate).Round(2)
		if err := u.setBalances(ctx, number, acc.Balance, acc.SavingsBalance.Add(interest)); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindInterest, interest, "")
	})
	if err != nil {
		return decimal.Zero, err
	}
	return interest, nil
}
