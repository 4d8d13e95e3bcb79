package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/events"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/store"
)

const (
	DefaultAccountNumberMin = 20022
	DefaultAccountNumberMax = 99999
	DefaultHistoryLimit     = 20
	MaxHistoryLimit         = 500
)

// DefaultInterestRate is applied to savings on demand (30%).
var DefaultInterestRate = decimal.RequireFromString("0.30")

// Options configures a Ledger or AuthGate. Zero values select the defaults.
type Options struct {
	InterestRate     decimal.Decimal
	AccountNumberMin int
	AccountNumberMax int
	HistoryLimit     int
	BcryptCost       int
	Publisher        events.Publisher
	Logger           *slog.Logger
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.InterestRate.IsZero() || o.InterestRate.IsNegative() {
		o.InterestRate = DefaultInterestRate
	}
	if o.AccountNumberMin <= 0 && o.AccountNumberMax <= 0 {
		o.AccountNumberMin, o.AccountNumberMax = DefaultAccountNumberMin, DefaultAccountNumberMax
	}
	if o.AccountNumberMin < 0 || o.AccountNumberMax < o.AccountNumberMin {
		o.AccountNumberMin, o.AccountNumberMax = DefaultAccountNumberMin, DefaultAccountNumberMax
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.Publisher == nil {
		o.Publisher = events.NopPublisher{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return o
}

// core is the unit-of-work machinery shared by the ledger and the auth gate.
type core struct {
	store store.Store
	opts  Options
}

// unit is one in-flight unit of work.
type unit struct {
	tx       store.Tx
	now      time.Time
	appended []domain.TransactionRecord
}

// lock loads and locks an account, reporting absence as missing.
func (u *unit) lock(ctx context.Context, number string, missing error) (domain.Account, error) {
	acc, err := u.tx.LockAccount(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, missing
	}
	return acc, err
}

func (u *unit) setBalances(ctx context.Context, number string, balance, savings decimal.Decimal) error {
	// Balances are never negative once committed.
	if balance.IsNegative() || savings.IsNegative() {
		return store.ErrConstraint
	}
	return u.tx.UpdateBalances(ctx, number, balance, savings)
}

func (u *unit) record(ctx context.Context, number string, kind domain.Kind, amount decimal.Decimal, counterparty string) error {
	rec, err := u.tx.AppendTransaction(ctx, domain.TransactionRecord{
		AccountNumber: number,
		Kind:          kind,
		Amount:        amount,
		Counterparty:  counterparty,
		CreatedAt:     u.now,
	})
	if err != nil {
		return err
	}
	u.appended = append(u.appended, rec)
	return nil
}

// execute runs fn as one unit of work and then records metrics, logs the
// outcome and publishes the committed records.
func (c *core) execute(ctx context.Context, op string, attrs []any, fn func(u *unit) error) error {
	start := time.Now()
	appended, err := c.attempt(ctx, fn)
	return c.finish(ctx, op, start, attrs, appended, err)
}

func (c *core) attempt(ctx context.Context, fn func(u *unit) error) ([]domain.TransactionRecord, error) {
	var appended []domain.TransactionRecord
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		u := &unit{tx: tx, now: c.opts.Now()}
		if err := fn(u); err != nil {
			return err
		}
		appended = u.appended
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (c *core) finish(ctx context.Context, op string, start time.Time, attrs []any, appended []domain.TransactionRecord, err error) error {
	err = classify(op, err)
	observe(op, start, err)

	logger := c.opts.Logger.With("operation", op)
	if err != nil {
		if IsBusiness(err) {
			logger.Info("operation rejected", append(attrs, "reason", Reason(err))...)
		} else {
			logger.Error("operation failed", append(attrs, "error", err)...)
		}
		return err
	}
	logger.Debug("operation committed", append(attrs, "records", len(appended))...)

	for _, rec := range appended {
		if perr := c.opts.Publisher.Publish(ctx, events.RoutingKey(rec.Kind), events.NewTransactionEvent(rec)); perr != nil {
			logger.Warn("publish transaction event failed", "record_id", rec.ID, "error", perr)
		}
	}
	return nil
}

// validAmount reports whether amt is positive with at most two decimal places.
func validAmount(amt decimal.Decimal) bool {
	return amt.IsPositive() && amt.Equal(amt.Round(2))
}
