package models

import (
	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// ClientLoginRequest authenticates an account holder.
type ClientLoginRequest struct {
	AccountNumber string `json:"account_number"`
	Password      string `json:"password"`
}

// StaffLoginRequest authenticates an agent or admin.
type StaffLoginRequest struct {
	StaffID  string      `json:"staff_id"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// SessionResponse is returned on successful login.
type SessionResponse struct {
	Token     string `json:"token"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject"`
	ExpiresIn int    `json:"expires_in"`
}

// CreateAccountRequest is the payload agents send to open an account.
type CreateAccountRequest struct {
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Phone          string          `json:"phone_number"`
	InitialDeposit decimal.Decimal `json:"initial_deposit"`
}

// CreateAccountResponse carries the new number; the initial password equals it.
type CreateAccountResponse struct {
	Account domain.Account `json:"account"`
}

// AmountRequest is used by deposit, withdraw, save and withdraw-savings.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest is the payload for a client transfer.
type TransferRequest struct {
	ToAccount string          `json:"to_account"`
	Amount    decimal.Decimal `json:"amount"`
}

// AirtimeRequest buys airtime for a phone number.
type AirtimeRequest struct {
	Phone  string          `json:"phone_number"`
	Amount decimal.Decimal `json:"amount"`
}

// ChangePasswordRequest is a client's self-service password change.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ResetPasswordRequest is an agent-assisted password reset.
type ResetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// BalanceResponse reports both balances of an account.
type BalanceResponse struct {
	AccountNumber  string          `json:"account_number"`
	Balance        decimal.Decimal `json:"balance"`
	SavingsBalance decimal.Decimal `json:"savings_balance"`
}

// InterestResponse reports the interest credited and the resulting savings.
type InterestResponse struct {
	Interest       decimal.Decimal `json:"interest"`
	SavingsBalance decimal.Decimal `json:"savings_balance"`
}

// HistoryResponse lists log records, most recent first.
type HistoryResponse struct {
	AccountNumber string                     `json:"account_number"`
	Records       []domain.TransactionRecord `json:"records"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}
