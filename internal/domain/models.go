package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a client's bank account. Balance is the main (spendable) balance.
// Neither balance may be negative once an operation has committed.
type Account struct {
	Number         string          `json:"account_number"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Phone          string          `json:"phone_number"`
	PasswordHash   string          `json:"-"`
	Balance        decimal.Decimal `json:"balance"`
	SavingsBalance decimal.Decimal `json:"savings_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Kind is the closed set of transaction log entry types.
type Kind string

const (
	KindDeposit         Kind = "Deposit"
	KindWithdrawal      Kind = "Withdrawal"
	KindTransferOut     Kind = "Transfer Out"
	KindTransferIn      Kind = "Transfer In"
	KindSaveInvest      Kind = "Save/Invest"
	KindWithdrawSavings Kind = "Withdraw Savings"
	KindInterest        Kind = "Interest"
	KindAirtime         Kind = "Airtime"
	KindPasswordReset   Kind = "Password_Reset"
)

// Kinds lists every valid Kind in declaration order.
var Kinds = []Kind{
	KindDeposit,
	KindWithdrawal,
	KindTransferOut,
	KindTransferIn,
	KindSaveInvest,
	KindWithdrawSavings,
	KindInterest,
	KindAirtime,
	KindPasswordReset,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// TransactionRecord is one immutable entry in an account's log.
// Counterparty holds the other account for transfers, the phone number for
// airtime, or a free-text note for administrative entries.
type TransactionRecord struct {
	ID            int64           `json:"id"`
	AccountNumber string          `json:"account_number"`
	Kind          Kind            `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Counterparty  string          `json:"target_account,omitempty"`
	CreatedAt     time.Time       `json:"timestamp"`
}

// Role distinguishes staff principals. There is no hierarchy between roles.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleAgent Role = "Agent"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAgent
}

// StaffPrincipal is an admin or agent login.
type StaffPrincipal struct {
	ID           string `json:"staff_id"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}
