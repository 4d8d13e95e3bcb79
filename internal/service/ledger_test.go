package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/store"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// tickingClock returns strictly increasing timestamps so log order is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func testOptions(pub *recordingPublisher) Options {
	opts := Options{
		BcryptCost: bcrypt.MinCost,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        tickingClock(),
	}
	if pub != nil {
		opts.Publisher = pub
	}
	return opts
}

func newTestLedger(t *testing.T) (*Ledger, *AuthGate, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(st.Close)
	opts := testOptions(nil)
	return NewLedger(st, opts), NewAuthGate(st, opts), st
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustOpen(t *testing.T, l *Ledger, first, deposit string) domain.Account {
	t.Helper()
	acc, err := l.CreateAccount(context.Background(), NewAccount{
		FirstName:      first,
		LastName:       "Banda",
		Phone:          "0977000000",
		InitialDeposit: dec(deposit),
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", first, err)
	}
	return acc
}

func assertBalances(t *testing.T, l *Ledger, number, balance, savings string) {
	t.Helper()
	acc, err := l.Account(context.Background(), number)
	if err != nil {
		t.Fatalf("Account(%s): %v", number, err)
	}
	if !acc.Balance.Equal(dec(balance)) {
		t.Fatalf("balance of %s = %s, want %s", number, acc.Balance, balance)
	}
	if !acc.SavingsBalance.Equal(dec(savings)) {
		t.Fatalf("savings of %s = %s, want %s", number, acc.SavingsBalance, savings)
	}
}

func TestCreateAccountDrawsNumberAndLogsInitialDeposit(t *testing.T) {
	ctx := context.Background()
	l, gate, _ := newTestLedger(t)

	acc := mustOpen(t, l, "Ana", "50.00")

	n, err := strconv.Atoi(acc.Number)
	if err != nil || len(acc.Number) != 5 {
		t.Fatalf("account number %q is not a 5-digit number", acc.Number)
	}
	if n < DefaultAccountNumberMin || n > DefaultAccountNumberMax {
		t.Fatalf("account number %d outside [%d, %d]", n, DefaultAccountNumberMin, DefaultAccountNumberMax)
	}
	assertBalances(t, l, acc.Number, "50", "0")

	ok, err := gate.VerifyClient(ctx, acc.Number, acc.Number)
	if err != nil || !ok {
		t.Fatalf("initial password should equal the account number: ok=%v err=%v", ok, err)
	}

	history, err := l.History(ctx, acc.Number, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d records, want 1", len(history))
	}
	rec := history[0]
	if rec.Kind != domain.KindDeposit || !rec.Amount.Equal(dec("50")) || rec.Counterparty != InitialDepositNote {
		t.Fatalf("unexpected initial record %+v", rec)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	l, _, st := newTestLedger(t)

	tests := []struct {
		name string
		in   NewAccount
		want error
	}{
		{"missing first name", NewAccount{FirstName: "  ", LastName: "Banda", InitialDeposit: dec("1")}, ErrInvalidInput},
		{"missing last name", NewAccount{FirstName: "Ana", InitialDeposit: dec("1")}, ErrInvalidInput},
		{"negative deposit", NewAccount{FirstName: "Ana", LastName: "Banda", InitialDeposit: dec("-1")}, ErrInvalidAmount},
		{"sub-cent deposit", NewAccount{FirstName: "Ana", LastName: "Banda", InitialDeposit: dec("1.005")}, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.CreateAccount(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	accounts, _ := st.ListAccounts(context.Background())
	if len(accounts) != 0 {
		t.Fatalf("rejected creations left %d accounts behind", len(accounts))
	}
}

func TestCreateAccountZeroDepositAllowed(t *testing.T) {
	l, _, _ := newTestLedger(t)
	acc := mustOpen(t, l, "Ana", "0")
	assertBalances(t, l, acc.Number, "0", "0")
}

func TestCreateAccountNumberSpaceExhausted(t *testing.T) {
	st := store.NewMemoryStore()
	opts := testOptions(nil)
	opts.AccountNumberMin, opts.AccountNumberMax = 20022, 20022
	l := NewLedger(st, opts)

	first := mustOpen(t, l, "Ana", "1")
	if first.Number != "20022" {
		t.Fatalf("got number %s, want 20022", first.Number)
	}
	_, err := l.CreateAccount(context.Background(), NewAccount{FirstName: "Ben", LastName: "Phiri", InitialDeposit: dec("1")})
	if !errors.Is(err, ErrAccountNumbersExhausted) {
		t.Fatalf("got %v, want ErrAccountNumbersExhausted", err)
	}
}

func TestCreateAccountScansForFreeNumberWhenDrawsCollide(t *testing.T) {
	st := store.NewMemoryStore()
	opts := testOptions(nil)
	opts.AccountNumberMin, opts.AccountNumberMax = 20022, 20024
	l := NewLedger(st, opts)

	first := mustOpen(t, l, "Ana", "1")
	second := mustOpen(t, l, "Ben", "1")
	// Every draw lands on a taken number from now on.
	l.draw = func() string { return first.Number }

	third := mustOpen(t, l, "Chipo", "1")
	for _, taken := range []string{first.Number, second.Number} {
		if third.Number == taken {
			t.Fatalf("third account reused number %s", taken)
		}
	}
	n, _ := strconv.Atoi(third.Number)
	if n < 20022 || n > 20024 {
		t.Fatalf("number %s outside range", third.Number)
	}

	_, err := l.CreateAccount(context.Background(), NewAccount{FirstName: "Dumi", LastName: "Phiri", InitialDeposit: dec("1")})
	if !errors.Is(err, ErrAccountNumbersExhausted) {
		t.Fatalf("got %v, want ErrAccountNumbersExhausted", err)
	}
}

func TestDrawNumberPadsToRangeWidth(t *testing.T) {
	opts := testOptions(nil)
	opts.AccountNumberMin, opts.AccountNumberMax = 7, 120
	l := NewLedger(store.NewMemoryStore(), opts)
	for i := 0; i < 200; i++ {
		got := l.drawNumber()
		if len(got) != 3 {
			t.Fatalf("drawNumber() = %q, want width 3", got)
		}
		n, _ := strconv.Atoi(got)
		if n < 7 || n > 120 {
			t.Fatalf("drawNumber() = %d out of range", n)
		}
	}
}

// TestClientSession walks a client through a typical session.
func TestClientSession(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	ana := mustOpen(t, l, "Ana", "50.00")
	ben := mustOpen(t, l, "Ben", "0")

	if err := l.Deposit(ctx, ana.Number, dec("20")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	assertBalances(t, l, ana.Number, "70", "0")

	if err := l.Withdraw(ctx, ana.Number, dec("100")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Withdraw(100) = %v, want ErrInsufficientFunds", err)
	}
	assertBalances(t, l, ana.Number, "70", "0")

	if err := l.Transfer(ctx, ana.Number, ben.Number, dec("30")); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	assertBalances(t, l, ana.Number, "40", "0")
	assertBalances(t, l, ben.Number, "30", "0")

	history, err := l.History(ctx, ana.Number, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	wantKinds := []domain.Kind{domain.KindTransferOut, domain.KindDeposit, domain.KindDeposit}
	if len(history) != len(wantKinds) {
		t.Fatalf("got %d records, want %d", len(history), len(wantKinds))
	}
	for i, k := range wantKinds {
		if history[i].Kind != k {
			t.Fatalf("record %d kind = %s, want %s", i, history[i].Kind, k)
		}
	}
	if history[0].Counterparty != ben.Number {
		t.Fatalf("transfer out counterparty = %q, want %q", history[0].Counterparty, ben.Number)
	}

	in, _ := l.History(ctx, ben.Number, 1)
	if len(in) != 1 || in[0].Kind != domain.KindTransferIn || in[0].Counterparty != ana.Number {
		t.Fatalf("unexpected transfer in record %+v", in)
	}
}

func TestAmountValidation(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	acc := mustOpen(t, l, "Ana", "10")
	other := mustOpen(t, l, "Ben", "10")

	ops := map[string]func(decimal.Decimal) error{
		"deposit":          func(a decimal.Decimal) error { return l.Deposit(ctx, acc.Number, a) },
		"withdraw":         func(a decimal.Decimal) error { return l.Withdraw(ctx, acc.Number, a) },
		"save":             func(a decimal.Decimal) error { return l.Save(ctx, acc.Number, a) },
		"withdraw_savings": func(a decimal.Decimal) error { return l.WithdrawSavings(ctx, acc.Number, a) },
		"airtime":          func(a decimal.Decimal) error { return l.BuyAirtime(ctx, acc.Number, a, "0977123456") },
		"transfer":         func(a decimal.Decimal) error { return l.Transfer(ctx, acc.Number, other.Number, a) },
	}
	for name, op := range ops {
		for _, amt := range []string{"0", "-5", "0.001"} {
			if err := op(dec(amt)); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("%s(%s) = %v, want ErrInvalidAmount", name, amt, err)
			}
		}
	}
	assertBalances(t, l, acc.Number, "10", "0")

	history, _ := l.History(ctx, acc.Number, 0)
	if len(history) != 1 {
		t.Fatalf("rejected operations wrote %d extra records", len(history)-1)
	}
}

func TestUnknownAccount(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)

	if err := l.Deposit(ctx, "99999", dec("1")); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Deposit = %v", err)
	}
	if err := l.Withdraw(ctx, "99999", dec("1")); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Withdraw = %v", err)
	}
	if _, err := l.ApplyInterest(ctx, "99999"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("ApplyInterest = %v", err)
	}
	if _, err := l.Balance(ctx, "99999"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Balance = %v", err)
	}
	if _, err := l.History(ctx, "99999", 5); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("History = %v", err)
	}
	if err := l.DeleteAccount(ctx, "99999"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("DeleteAccount = %v", err)
	}
}

func TestTransferOutcomes(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	a := mustOpen(t, l, "Ana", "10")
	b := mustOpen(t, l, "Ben", "5")

	tests := []struct {
		name     string
		src, dst string
		amount   string
		want     error
	}{
		{"same account", a.Number, a.Number, "1", ErrSameAccount},
		{"same unknown account", "11111", "11111", "1", ErrSameAccount},
		{"same account beats invalid amount", a.Number, a.Number, "0", ErrSameAccount},
		{"unknown source", "11111", b.Number, "1", ErrSourceNotFound},
		{"unknown target", a.Number, "11111", "1", ErrTargetNotFound},
		{"both unknown", "11111", "11112", "1", ErrSourceNotFound},
		{"insufficient funds", a.Number, b.Number, "10.01", ErrInsufficientFunds},
		{"exact balance", a.Number, b.Number, "10", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Transfer(ctx, tt.src, tt.dst, dec(tt.amount))
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	assertBalances(t, l, a.Number, "0", "0")
	assertBalances(t, l, b.Number, "15", "0")
}

func TestSavingsAndInterest(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	acc := mustOpen(t, l, "Ana", "100")

	if _, err := l.ApplyInterest(ctx, acc.Number); !errors.Is(err, ErrNoBalanceForInterest) {
		t.Fatalf("ApplyInterest with empty savings = %v", err)
	}
	if err := l.Save(ctx, acc.Number, dec("150")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Save beyond balance = %v", err)
	}
	if err := l.Save(ctx, acc.Number, dec("40")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	assertBalances(t, l, acc.Number, "60", "40")

	interest, err := l.ApplyInterest(ctx, acc.Number)
	if err != nil {
		t.Fatalf("ApplyInterest: %v", err)
	}
	if !interest.Equal(dec("12")) {
		t.Fatalf("interest = %s, want 12", interest)
	}
	assertBalances(t, l, acc.Number, "60", "52")

	if err := l.WithdrawSavings(ctx, acc.Number, dec("52.01")); !errors.Is(err, ErrInsufficientSavings) {
		t.Fatalf("WithdrawSavings beyond savings = %v", err)
	}
	if err := l.WithdrawSavings(ctx, acc.Number, dec("2")); err != nil {
		t.Fatalf("WithdrawSavings: %v", err)
	}
	assertBalances(t, l, acc.Number, "62", "50")

	history, _ := l.History(ctx, acc.Number, 3)
	want := []struct {
		kind   domain.Kind
		amount string
	}{
		{domain.KindWithdrawSavings, "2"},
		{domain.KindInterest, "12"},
		{domain.KindSaveInvest, "40"},
	}
	for i, w := range want {
		if history[i].Kind != w.kind || !history[i].Amount.Equal(dec(w.amount)) {
			t.Fatalf("record %d = %s %s, want %s %s", i, history[i].Kind, history[i].Amount, w.kind, w.amount)
		}
	}
}

func TestInterestRoundsHalfUpToCents(t *testing.T) {
	tests := []struct {
		saved    string
		interest string
		savings  string
	}{
		{"0.05", "0.02", "0.07"}, // 0.015
		{"0.15", "0.05", "0.20"}, // 0.045
		{"0.11", "0.03", "0.14"}, // 0.033
		{"0.10", "0.03", "0.13"},
	}
	for _, tt := range tests {
		t.Run(tt.saved, func(t *testing.T) {
			ctx := context.Background()
			l, _, _ := newTestLedger(t)
			acc := mustOpen(t, l, "Ana", "1")
			if err := l.Save(ctx, acc.Number, dec(tt.saved)); err != nil {
				t.Fatalf("Save: %v", err)
			}

			interest, err := l.ApplyInterest(ctx, acc.Number)
			if err != nil {
				t.Fatalf("ApplyInterest: %v", err)
			}
			if !interest.Equal(dec(tt.interest)) {
				t.Fatalf("interest = %s, want %s", interest, tt.interest)
			}
			assertBalances(t, l, acc.Number, dec("1").Sub(dec(tt.saved)).String(), tt.savings)

			history, err := l.History(ctx, acc.Number, 1)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if history[0].Kind != domain.KindInterest || !history[0].Amount.Equal(dec(tt.interest)) {
				t.Fatalf("logged %s %s, want Interest %s", history[0].Kind, history[0].Amount, tt.interest)
			}
		})
	}
}

func TestBuyAirtime(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	acc := mustOpen(t, l, "Ana", "20")

	if err := l.BuyAirtime(ctx, acc.Number, dec("5"), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("BuyAirtime without phone = %v", err)
	}
	if err := l.BuyAirtime(ctx, acc.Number, dec("25"), "0977123456"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("BuyAirtime beyond balance = %v", err)
	}
	if err := l.BuyAirtime(ctx, acc.Number, dec("5"), "0977123456"); err != nil {
		t.Fatalf("BuyAirtime: %v", err)
	}
	assertBalances(t, l, acc.Number, "15", "0")

	history, _ := l.History(ctx, acc.Number, 1)
	if history[0].Kind != domain.KindAirtime || history[0].Counterparty != "0977123456" {
		t.Fatalf("unexpected airtime record %+v", history[0])
	}
}

func TestDeleteAccountRemovesLog(t *testing.T) {
	ctx := context.Background()
	l, gate, st := newTestLedger(t)
	a := mustOpen(t, l, "Ana", "10")
	b := mustOpen(t, l, "Ben", "10")
	if err := l.Transfer(ctx, a.Number, b.Number, dec("5")); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if err := l.DeleteAccount(ctx, a.Number); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := l.Account(ctx, a.Number); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("deleted account still readable: %v", err)
	}
	if _, err := st.ListTransactions(ctx, a.Number, 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted account log still readable: %v", err)
	}
	if ok, _ := gate.VerifyClient(ctx, a.Number, a.Number); ok {
		t.Fatal("deleted account can still log in")
	}

	// The counterparty keeps its own side of the transfer.
	history, _ := l.History(ctx, b.Number, 0)
	if len(history) != 2 || history[0].Kind != domain.KindTransferIn {
		t.Fatalf("counterparty log changed: %+v", history)
	}
}

func TestHistoryLimits(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	acc := mustOpen(t, l, "Ana", "0")
	for i := 0; i < 25; i++ {
		if err := l.Deposit(ctx, acc.Number, dec("1")); err != nil {
			t.Fatalf("Deposit: %v", err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultHistoryLimit},
		{-3, DefaultHistoryLimit},
		{5, 5},
		{1000, 26},
	}
	for _, tt := range tests {
		got, err := l.History(ctx, acc.Number, tt.limit)
		if err != nil {
			t.Fatalf("History(%d): %v", tt.limit, err)
		}
		if len(got) != tt.want {
			t.Fatalf("History(%d) returned %d records, want %d", tt.limit, len(got), tt.want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].CreatedAt.After(got[i-1].CreatedAt) {
				t.Fatalf("History(%d) not newest first at %d", tt.limit, i)
			}
		}
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	acc := mustOpen(t, l, "Ana", "100")

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := l.Withdraw(ctx, acc.Number, dec("10"))
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("Withdraw: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("%d withdrawals succeeded, want 10", succeeded)
	}
	assertBalances(t, l, acc.Number, "0", "0")
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t)
	a := mustOpen(t, l, "Ana", "500")
	b := mustOpen(t, l, "Ben", "500")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Transfer(ctx, a.Number, b.Number, dec("7.50"))
		}()
		go func() {
			defer wg.Done()
			_ = l.Transfer(ctx, b.Number, a.Number, dec("3.25"))
		}()
	}
	wg.Wait()

	accA, _ := l.Account(ctx, a.Number)
	accB, _ := l.Account(ctx, b.Number)
	if total := accA.Balance.Add(accB.Balance); !total.Equal(dec("1000")) {
		t.Fatalf("total balance = %s, want 1000", total)
	}
	if accA.Balance.IsNegative() || accB.Balance.IsNegative() {
		t.Fatalf("negative balance: %s / %s", accA.Balance, accB.Balance)
	}
}

func TestCommittedRecordsArePublished(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	st := store.NewMemoryStore()
	l := NewLedger(st, testOptions(pub))

	a := mustOpen(t, l, "Ana", "10")
	b := mustOpen(t, l, "Ben", "0")
	if err := l.Transfer(ctx, a.Number, b.Number, dec("4")); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	_ = l.Withdraw(ctx, b.Number, dec("100"))

	want := []string{
		"ledger.transaction.deposit",
		"ledger.transaction.deposit",
		"ledger.transaction.transfer_out",
		"ledger.transaction.transfer_in",
	}
	got := pub.published()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.err
}

func TestStorageFailureIsClassified(t *testing.T) {
	st := store.NewMemoryStore()
	boom := errors.New("connection reset")
	l := NewLedger(failingStore{MemoryStore: st, err: boom}, testOptions(nil))

	err := l.Deposit(context.Background(), "20022", dec("1"))
	if !errors.Is(err, ErrStorage) || !errors.Is(err, boom) {
		t.Fatalf("got %v, want ErrStorage wrapping the cause", err)
	}
	if IsBusiness(err) {
		t.Fatal("storage failure reported as a business outcome")
	}
	if Reason(err) != "storage_failure" {
		t.Fatalf("Reason = %s", Reason(err))
	}
}

// failNthAppend fails the nth AppendTransaction made inside a unit of work.
type failNthAppend struct {
	*store.MemoryStore
	n   int
	err error
}

func (f failNthAppend) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.MemoryStore.InTx(ctx, func(tx store.Tx) error {
		return fn(&countingTx{Tx: tx, failAt: f.n, err: f.err})
	})
}

type countingTx struct {
	store.Tx
	appends int
	failAt  int
	err     error
}

func (c *countingTx) AppendTransaction(ctx context.Context, rec domain.TransactionRecord) (domain.TransactionRecord, error) {
	c.appends++
	if c.appends == c.failAt {
		return domain.TransactionRecord{}, c.err
	}
	return c.Tx.AppendTransaction(ctx, rec)
}

func TestTransferRollsBackWhenSecondLogEntryFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	t.Cleanup(st.Close)
	pub := &recordingPublisher{}
	opts := testOptions(pub)
	seed := NewLedger(st, opts)
	a := mustOpen(t, seed, "Ana", "50")
	b := mustOpen(t, seed, "Ben", "0")
	before := len(pub.published())

	boom := errors.New("disk full")
	l := NewLedger(failNthAppend{MemoryStore: st, n: 2, err: boom}, opts)
	err := l.Transfer(ctx, a.Number, b.Number, dec("20"))
	if !errors.Is(err, ErrStorage) || !errors.Is(err, boom) {
		t.Fatalf("got %v, want ErrStorage wrapping the cause", err)
	}

	assertBalances(t, seed, a.Number, "50", "0")
	assertBalances(t, seed, b.Number, "0", "0")
	for _, number := range []string{a.Number, b.Number} {
		history, err := seed.History(ctx, number, 0)
		if err != nil {
			t.Fatalf("History(%s): %v", number, err)
		}
		if len(history) != 1 || history[0].Counterparty != InitialDepositNote {
			t.Fatalf("history of %s = %+v, want only the initial deposit", number, history)
		}
	}
	if got := len(pub.published()); got != before {
		t.Fatalf("published %d events for a rolled back transfer", got-before)
	}
}
