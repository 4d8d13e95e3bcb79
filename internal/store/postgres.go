package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// Ensure PostgresStore satisfies the Store interface at compile time.
var _ Store = (*PostgresStore)(nil)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// ErrConstraint wraps a CHECK violation, e.g. a balance about to go negative.
var ErrConstraint = errors.New("constraint violation")

// PostgresStore persists accounts, the transaction log and staff in Postgres.
type PostgresStore struct {
	Db *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates the schema.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{Db: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.Db != nil {
		s.Db.Close()
	}
}

// Migrate creates the three tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_number TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			phone_number TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			balance NUMERIC(24,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			savings_balance NUMERIC(24,2) NOT NULL DEFAULT 0 CHECK (savings_balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			account_number TEXT NOT NULL REFERENCES accounts(account_number) ON DELETE CASCADE,
			type TEXT NOT NULL,
			amount NUMERIC(24,2) NOT NULL CHECK (amount >= 0),
			target_account TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS transactions_account_created_idx
			ON transactions (account_number, created_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS staff (
			staff_id TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('Admin', 'Agent'))
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// Amounts travel as text so NUMERIC keeps exact cents both ways; decimal.Decimal
// scans back through its sql.Scanner.
const accountColumns = `account_number, first_name, last_name, phone_number, password_hash, balance, savings_balance, created_at`

// GetAccount retrieves a single account by number.
func (s *PostgresStore) GetAccount(ctx context.Context, number string) (domain.Account, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE account_number = $1", number)
	return scanAccount(row)
}

// ListAccounts returns every account ordered by creation time.
func (s *PostgresStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY created_at, account_number")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// ListTransactions retrieves the most recent log records of an account.
func (s *PostgresStore) ListTransactions(ctx context.Context, number string, limit int) ([]domain.TransactionRecord, error) {
	// First check if account exists
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)", number).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, account_number, type, amount, target_account, created_at
		FROM transactions WHERE account_number = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`,
		number, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.TransactionRecord{}
	for rows.Next() {
		var rec domain.TransactionRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.AccountNumber, &kind, &rec.Amount, &rec.Counterparty, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Kind = domain.Kind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStaff fetches a staff principal by id.
func (s *PostgresStore) GetStaff(ctx context.Context, id string) (domain.StaffPrincipal, error) {
	var staff domain.StaffPrincipal
	var role string
	err := s.Db.QueryRow(ctx, "SELECT staff_id, password_hash, role FROM staff WHERE staff_id = $1", id).
		Scan(&staff.ID, &staff.PasswordHash, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StaffPrincipal{}, ErrNotFound
		}
		return domain.StaffPrincipal{}, err
	}
	staff.Role = domain.Role(role)
	return staff, nil
}

// EnsureStaff inserts a staff principal if its id is free.
func (s *PostgresStore) EnsureStaff(ctx context.Context, staff domain.StaffPrincipal) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		"INSERT INTO staff (staff_id, password_hash, role) VALUES ($1, $2, $3) ON CONFLICT (staff_id) DO NOTHING",
		staff.ID, staff.PasswordHash, string(staff.Role))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InTx runs fn inside a read-committed transaction. Row locks taken through
// LockAccount serialise concurrent writers on the same account.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, number string) (domain.Account, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE account_number = $1 FOR UPDATE", number)
	acc, err := scanAccount(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Account{}, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return acc, err
}

func (t *pgTx) InsertAccount(ctx context.Context, acc domain.Account) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_number) DO NOTHING`,
		acc.Number, acc.FirstName, acc.LastName, acc.Phone, acc.PasswordHash,
		acc.Balance.String(), acc.SavingsBalance.String(), acc.CreatedAt)
	if err != nil {
		return mapPgError("account insert failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (t *pgTx) UpdateBalances(ctx context.Context, number string, balance, savings decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = $2, savings_balance = $3 WHERE account_number = $1",
		number, balance.String(), savings.String())
	if err != nil {
		return mapPgError("balance update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) UpdatePasswordHash(ctx context.Context, number, hash string) error {
	tag, err := t.tx.Exec(ctx, "UPDATE accounts SET password_hash = $2 WHERE account_number = $1", number, hash)
	if err != nil {
		return mapPgError("password update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, rec domain.TransactionRecord) (domain.TransactionRecord, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO transactions (account_number, type, amount, target_account, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rec.AccountNumber, string(rec.Kind), rec.Amount.String(), rec.Counterparty, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return domain.TransactionRecord{}, mapPgError("ledger entry failed", err)
	}
	return rec, nil
}

func (t *pgTx) DeleteAccount(ctx context.Context, number string) (int64, error) {
	// Delete transactions first
	txTag, err := t.tx.Exec(ctx, "DELETE FROM transactions WHERE account_number = $1", number)
	if err != nil {
		return 0, mapPgError("transaction delete failed", err)
	}
	accTag, err := t.tx.Exec(ctx, "DELETE FROM accounts WHERE account_number = $1", number)
	if err != nil {
		return 0, mapPgError("account delete failed", err)
	}
	if accTag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}
	return txTag.RowsAffected(), nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.Number, &acc.FirstName, &acc.LastName, &acc.Phone, &acc.PasswordHash,
		&acc.Balance, &acc.SavingsBalance, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, ErrNotFound
		}
		return domain.Account{}, err
	}
	return acc, nil
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		case pgCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConstraint, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
