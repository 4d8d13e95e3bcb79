package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrTxDone is returned when a Tx is used after its unit of work finished.
var ErrTxDone = errors.New("transaction already finished")

// Store is the persistence boundary used by the ledger and the auth gate.
// Reads never mutate state. Every mutation goes through InTx.
type Store interface {
	GetAccount(ctx context.Context, number string) (domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// ListTransactions returns the newest limit records of an account, newest first.
	// It returns ErrNotFound when the account itself does not exist.
	ListTransactions(ctx context.Context, number string, limit int) ([]domain.TransactionRecord, error)
	GetStaff(ctx context.Context, id string) (domain.StaffPrincipal, error)
	// EnsureStaff inserts the principal unless the id is taken. It reports
	// whether a row was created.
	EnsureStaff(ctx context.Context, staff domain.StaffPrincipal) (bool, error)
	// InTx runs fn as one unit of work: every write made through tx commits
	// when fn returns nil and is rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// Tx is the write side of a unit of work.
type Tx interface {
	// LockAccount reads an account and holds it against concurrent writers
	// until the unit of work ends.
	LockAccount(ctx context.Context, number string) (domain.Account, error)
	// InsertAccount returns ErrAlreadyExists if the number is taken. The
	// surrounding unit of work stays usable so the caller may retry.
	InsertAccount(ctx context.Context, account domain.Account) error
	UpdateBalances(ctx context.Context, number string, balance, savings decimal.Decimal) error
	UpdatePasswordHash(ctx context.Context, number, hash string) error
	AppendTransaction(ctx context.Context, rec domain.TransactionRecord) (domain.TransactionRecord, error)
	// DeleteAccount removes the account and its transaction log, returning
	// the number of log records removed.
	DeleteAccount(ctx context.Context, number string) (int64, error)
}
