package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// Transfer moves amt from src's main balance to dst's. Both balance updates
// and both log entries commit together or not at all.
func (l *Ledger) Transfer(ctx context.Context, src, dst string, amt decimal.Decimal) error {
	const op = "transfer"
	attrs := []any{"from", src, "to", dst, "amount", amt.String()}
	if src == dst {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrSameAccount)
	}
	if !validAmount(amt) {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidAmount)
	}

	return l.execute(ctx, op, attrs, func(u *unit) error {
		// Deterministic locking (deadlock prevention)
		first, second := src, dst
		if first > second {
			first, second = second, first
		}
		locked := make(map[string]domain.Account, 2)
		missing := make(map[string]bool, 2)
		for _, number := range []string{first, second} {
			acc, err := u.lock(ctx, number, ErrAccountNotFound)
			if errors.Is(err, ErrAccountNotFound) {
				missing[number] = true
				continue
			}
			if err != nil {
				return err
			}
			locked[number] = acc
		}

		if missing[src] {
			return ErrSourceNotFound
		}
		if missing[dst] {
			return ErrTargetNotFound
		}
		from, to := locked[src], locked[dst]
		if from.Balance.LessThan(amt) {
			return ErrInsufficientFunds
		}

		if err := u.setBalances(ctx, src, from.Balance.Sub(amt), from.SavingsBalance); err != nil {
			return err
		}
		if err := u.setBalances(ctx, dst, to.Balance.Add(amt), to.SavingsBalance); err != nil {
			return err
		}
		if err := u.record(ctx, src, domain.KindTransferOut, amt, dst); err != nil {
			return err
		}
		return u.record(ctx, dst, domain.KindTransferIn, amt, src)
	})
}
