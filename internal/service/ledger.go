package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/auth"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/store"
)

// maxNumberAttempts bounds the random draws for a free account number, and
// separately the candidates tried by the fallback scan.
const maxNumberAttempts = 64

// InitialDepositNote is the counterparty of the log entry written at account creation.
const InitialDepositNote = "Initial Deposit"

// Ledger implements the balance-affecting operations. It holds no per-call
// state; every operation is a single unit of work against the store.
type Ledger struct {
	core

	draw func() string
}

func NewLedger(s store.Store, opts Options) *Ledger {
	l := &Ledger{core: core{store: s, opts: opts.withDefaults()}}
	l.draw = l.drawNumber
	return l
}

// InterestRate returns the configured savings interest rate.
func (l *Ledger) InterestRate() decimal.Decimal {
	return l.opts.InterestRate
}

// NewAccount carries the caller-supplied fields of a new account.
type NewAccount struct {
	FirstName      string
	LastName       string
	Phone          string
	InitialDeposit decimal.Decimal
}

// CreateAccount opens an account under a freshly drawn number. The initial
// password is the account number itself.
func (l *Ledger) CreateAccount(ctx context.Context, in NewAccount) (domain.Account, error) {
	const op = "create_account"
	start := time.Now()

	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.FirstName == "" || in.LastName == "" {
		return domain.Account{}, l.finish(ctx, op, start, nil, nil, ErrInvalidInput)
	}
	if in.InitialDeposit.IsNegative() || !in.InitialDeposit.Equal(in.InitialDeposit.Round(2)) {
		return domain.Account{}, l.finish(ctx, op, start, nil, nil, ErrInvalidAmount)
	}

	for i := 0; i < maxNumberAttempts; i++ {
		acc, taken, err := l.tryCreate(ctx, op, start, in, l.draw())
		if !taken {
			return acc, err
		}
	}

	// Random draws keep colliding in a nearly full range; look for the gaps.
	free, err := l.freeNumbers(ctx, maxNumberAttempts)
	if err != nil {
		return domain.Account{}, l.finish(ctx, op, start, nil, nil, err)
	}
	for _, number := range free {
		acc, taken, err := l.tryCreate(ctx, op, start, in, number)
		if !taken {
			return acc, err
		}
	}
	return domain.Account{}, l.finish(ctx, op, start, nil, nil, ErrAccountNumbersExhausted)
}

// tryCreate inserts the account under number. taken reports a number
// collision, in which case nothing was written and the caller moves on.
func (l *Ledger) tryCreate(ctx context.Context, op string, start time.Time, in NewAccount, number string) (domain.Account, bool, error) {
	hash, err := auth.HashPassword(number, l.opts.BcryptCost)
	if err != nil {
		return domain.Account{}, false, l.finish(ctx, op, start, nil, nil, fmt.Errorf("hash initial password: %w", err))
	}

	var created domain.Account
	appended, err := l.attempt(ctx, func(u *unit) error {
		created = domain.Account{
			Number:         number,
			FirstName:      in.FirstName,
			LastName:       in.LastName,
			Phone:          in.Phone,
			PasswordHash:   hash,
			Balance:        in.InitialDeposit,
			SavingsBalance: decimal.Zero,
			CreatedAt:      u.now,
		}
		if err := u.tx.InsertAccount(ctx, created); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindDeposit, in.InitialDeposit, InitialDepositNote)
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.Account{}, true, nil
	}
	if err := l.finish(ctx, op, start, []any{"account", number}, appended, err); err != nil {
		return domain.Account{}, false, err
	}
	return created, false, nil
}

// freeNumbers returns up to limit unused numbers of the range, walking it
// from a random offset.
func (l *Ledger) freeNumbers(ctx context.Context, limit int) ([]string, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		used[acc.Number] = struct{}{}
	}

	lo, hi := l.opts.AccountNumberMin, l.opts.AccountNumberMax
	size := hi - lo + 1
	offset := rand.IntN(size)
	var free []string
	for i := 0; i < size && len(free) < limit; i++ {
		number := l.formatNumber(lo + (offset+i)%size)
		if _, ok := used[number]; !ok {
			free = append(free, number)
		}
	}
	return free, nil
}

// drawNumber picks a zero-padded number uniformly from the configured range.
func (l *Ledger) drawNumber() string {
	lo, hi := l.opts.AccountNumberMin, l.opts.AccountNumberMax
	return l.formatNumber(lo + rand.IntN(hi-lo+1))
}

func (l *Ledger) formatNumber(n int) string {
	return fmt.Sprintf("%0*d", len(strconv.Itoa(l.opts.AccountNumberMax)), n)
}

// Deposit adds amt to the main balance.
func (l *Ledger) Deposit(ctx context.Context, number string, amt decimal.Decimal) error {
	const op = "deposit"
	attrs := []any{"account", number, "amount", amt.String()}
	if !validAmount(amt) {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidAmount)
	}
	return l.execute(ctx, op, attrs, func(u *unit) error {
		acc, err := u.lock(ctx, number, ErrAccountNotFound)
		if err != nil {
			return err
		}
		if err := u.setBalances(ctx, number, acc.Balance.Add(amt), acc.SavingsBalance); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindDeposit, amt, "")
	})
}

// Withdraw takes amt from the main balance.
func (l *Ledger) Withdraw(ctx context.Context, number string, amt decimal.Decimal) error {
	const op = "withdraw"
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
		if err := u.setBalances(ctx, number, acc.Balance.Sub(amt), acc.SavingsBalance); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindWithdrawal, amt, "")
	})
}

// BuyAirtime pays amt from the main balance for airtime on phone.
func (l *Ledger) BuyAirtime(ctx context.Context, number string, amt decimal.Decimal, phone string) error {
	const op = "buy_airtime"
	phone = strings.TrimSpace(phone)
	attrs := []any{"account", number, "amount", amt.String(), "phone", phone}
	if !validAmount(amt) {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidAmount)
	}
	if phone == "" {
		return l.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidInput)
	}
	return l.execute(ctx, op, attrs, func(u *unit) error {
		acc, err := u.lock(ctx, number, ErrAccountNotFound)
		if err != nil {
			return err
		}
		if acc.Balance.LessThan(amt) {
			return ErrInsufficientFunds
		}
		if err := u.setBalances(ctx, number, acc.Balance.Sub(amt), acc.SavingsBalance); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindAirtime, amt, phone)
	})
}

// DeleteAccount removes the account together with its transaction log.
func (l *Ledger) DeleteAccount(ctx context.Context, number string) error {
	const op = "delete_account"
	var removed int64
	err := l.execute(ctx, op, []any{"account", number}, func(u *unit) error {
		if _, err := u.lock(ctx, number, ErrAccountNotFound); err != nil {
			return err
		}
		n, err := u.tx.DeleteAccount(ctx, number)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		removed = n
		return err
	})
	if err == nil {
		l.opts.Logger.Info("account deleted", "account", number, "records_removed", removed)
	}
	return err
}

// Account returns a single account.
func (l *Ledger) Account(ctx context.Context, number string) (domain.Account, error) {
	acc, err := l.store.GetAccount(ctx, number)
	if err != nil {
		return domain.Account{}, l.readErr("get_account", err)
	}
	return acc, nil
}

// Accounts returns every account.
func (l *Ledger) Accounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, l.readErr("list_accounts", err)
	}
	return accounts, nil
}

// Balance returns the main balance.
func (l *Ledger) Balance(ctx context.Context, number string) (decimal.Decimal, error) {
	acc, err := l.Account(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// SavingsBalance returns the savings balance.
func (l *Ledger) SavingsBalance(ctx context.Context, number string) (decimal.Decimal, error) {
	acc, err := l.Account(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.SavingsBalance, nil
}

// History returns up to limit log records, most recent first. A limit of
// zero or less selects the configured default.
func (l *Ledger) History(ctx context.Context, number string, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = l.opts.HistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	records, err := l.store.ListTransactions(ctx, number, limit)
	if err != nil {
		return nil, l.readErr("history", err)
	}
	return records, nil
}

func (l *Ledger) readErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	err = classify(op, err)
	l.opts.Logger.Error("read failed", "operation", op, "error", err)
	return err
}
