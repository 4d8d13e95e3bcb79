package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an embedded, process-local Store. Units of work are
// serialised by a store-wide write lock and undone from a journal on failure.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	records  map[string][]domain.TransactionRecord
	staff    map[string]domain.StaffPrincipal
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		records:  make(map[string][]domain.TransactionRecord),
		staff:    make(map[string]domain.StaffPrincipal),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) GetAccount(ctx context.Context, number string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[number]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, number string, limit int) ([]domain.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[number]; !ok {
		return nil, ErrNotFound
	}
	log := s.records[number]
	out := make([]domain.TransactionRecord, len(log))
	copy(out, log)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetStaff(ctx context.Context, id string) (domain.StaffPrincipal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	staff, ok := s.staff[id]
	if !ok {
		return domain.StaffPrincipal{}, ErrNotFound
	}
	return staff, nil
}

func (s *MemoryStore) EnsureStaff(ctx context.Context, staff domain.StaffPrincipal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[staff.ID]; ok {
		return false, nil
	}
	s.staff[staff.ID] = staff
	return true, nil
}

// InTx holds the write lock for the whole of fn. A panic inside fn is
// rolled back before it propagates.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		tx.done = true
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

type memTx struct {
	s    *MemoryStore
	undo []func()
	done bool
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockAccount(ctx context.Context, number string) (domain.Account, error) {
	if t.done {
		return domain.Account{}, ErrTxDone
	}
	acc, ok := t.s.accounts[number]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return acc, nil
}

func (t *memTx) InsertAccount(ctx context.Context, acc domain.Account) error {
	if t.done {
		return ErrTxDone
	}
	if _, ok := t.s.accounts[acc.Number]; ok {
		return ErrAlreadyExists
	}
	t.s.accounts[acc.Number] = acc
	t.undo = append(t.undo, func() { delete(t.s.accounts, acc.Number) })
	return nil
}

func (t *memTx) UpdateBalances(ctx context.Context, number string, balance, savings decimal.Decimal) error {
	if t.done {
		return ErrTxDone
	}
	acc, ok := t.s.accounts[number]
	if !ok {
		return ErrNotFound
	}
	if balance.IsNegative() || savings.IsNegative() {
		return ErrConstraint
	}
	prev := acc
	acc.Balance = balance
	acc.SavingsBalance = savings
	t.s.accounts[number] = acc
	t.undo = append(t.undo, func() { t.s.accounts[number] = prev })
	return nil
}

func (t *memTx) UpdatePasswordHash(ctx context.Context, number, hash string) error {
	if t.done {
		return ErrTxDone
	}
	acc, ok := t.s.accounts[number]
	if !ok {
		return ErrNotFound
	}
	prev := acc
	acc.PasswordHash = hash
	t.s.accounts[number] = acc
	t.undo = append(t.undo, func() { t.s.accounts[number] = prev })
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, rec domain.TransactionRecord) (domain.TransactionRecord, error) {
	if t.done {
		return domain.TransactionRecord{}, ErrTxDone
	}
	if _, ok := t.s.accounts[rec.AccountNumber]; !ok {
		return domain.TransactionRecord{}, ErrNotFound
	}
	if rec.Amount.IsNegative() {
		return domain.TransactionRecord{}, ErrConstraint
	}
	t.s.nextID++
	rec.ID = t.s.nextID
	number := rec.AccountNumber
	t.s.records[number] = append(t.s.records[number], rec)
	t.undo = append(t.undo, func() {
		log := t.s.records[number]
		t.s.records[number] = log[:len(log)-1]
		if len(t.s.records[number]) == 0 {
			delete(t.s.records, number)
		}
	})
	return rec, nil
}

func (t *memTx) DeleteAccount(ctx context.Context, number string) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	acc, ok := t.s.accounts[number]
	if !ok {
		return 0, ErrNotFound
	}
	log, hadLog := t.s.records[number]
	delete(t.s.records, number)
	delete(t.s.accounts, number)
	t.undo = append(t.undo, func() {
		t.s.accounts[number] = acc
		if hadLog {
			t.s.records[number] = log
		}
	})
	return int64(len(log)), nil
}
