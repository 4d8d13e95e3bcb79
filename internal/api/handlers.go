package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/auth"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/models"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/service"
)

const (
	scopeClient = "client"
	scopeStaff  = "staff"
)

// ClientLogin exchanges an account number and password for a client session.
func (h *Handler) ClientLogin(w http.ResponseWriter, r *http.Request) {
	var req models.ClientLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if req.AccountNumber == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "account_number and password are required", "invalid_input")
		return
	}
	if !h.allowAttempt(w, r, scopeClient, req.AccountNumber) {
		return
	}

	credential, ok, err := h.gate.AuthenticateClient(r.Context(), req.AccountNumber, req.Password)
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "invalid account number or password", "invalid_credentials")
		return
	}
	h.issueSession(w, auth.Principal{Kind: auth.KindClient, Subject: req.AccountNumber, Credential: credential})
}

// StaffLogin exchanges a staff id, password and role for an agent or admin session.
func (h *Handler) StaffLogin(w http.ResponseWriter, r *http.Request) {
	var req models.StaffLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.StaffID == "" || req.Password == "" || !req.Role.Valid() {
		h.respondError(w, http.StatusBadRequest, "staff_id, password and a valid role are required", "invalid_input")
		return
	}
	if !h.allowAttempt(w, r, scopeStaff, req.StaffID) {
		return
	}

	credential, ok, err := h.gate.AuthenticateStaff(r.Context(), req.StaffID, req.Password, req.Role)
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "invalid staff credentials", "invalid_credentials")
		return
	}
	h.issueSession(w, auth.Principal{Kind: auth.KindForRole(req.Role), Subject: req.StaffID, Credential: credential})
}

// allowAttempt consumes a login attempt. A limiter outage does not lock
// everybody out; it is logged and the attempt proceeds.
func (h *Handler) allowAttempt(w http.ResponseWriter, r *http.Request, scope, subject string) bool {
	retryAfter, err := h.limiter.Allow(r.Context(), scope, subject)
	if errors.Is(err, auth.ErrTooManyAttempts) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.respondError(w, http.StatusTooManyRequests, "too many login attempts, try again later", "too_many_attempts")
		return false
	}
	if err != nil {
		h.logger.Warn("login limiter unavailable", "scope", scope, "error", err)
	}
	return true
}

func (h *Handler) issueSession(w http.ResponseWriter, p auth.Principal) {
	token, err := h.tokens.Generate(p)
	if err != nil {
		h.logger.Error("issue session failed", "kind", string(p.Kind), "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal server error", "storage_failure")
		return
	}
	h.respondJSON(w, http.StatusOK, models.SessionResponse{
		Token:     token,
		Kind:      string(p.Kind),
		Subject:   p.Subject,
		ExpiresIn: int(h.ttl.Seconds()),
	})
}

// subject returns the account or staff id of the authenticated caller.
func subject(r *http.Request) string {
	p, _ := auth.PrincipalFrom(r.Context())
	return p.Subject
}

func historyLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Client endpoints. The account is always the session's own.

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc, err := h.ledger.Account(r.Context(), subject(r))
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, acc)
}

func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	h.respondBalance(w, r, subject(r))
}

func (h *Handler) MyHistory(w http.ResponseWriter, r *http.Request) {
	h.respondHistory(w, r, subject(r))
}

func (h *Handler) MyTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	src := subject(r)
	if err := h.ledger.Transfer(r.Context(), src, strings.TrimSpace(req.ToAccount), req.Amount); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondBalance(w, r, src)
}

func (h *Handler) MySave(w http.ResponseWriter, r *http.Request) {
	var req models.AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ledger.Save(r.Context(), subject(r), req.Amount); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondBalance(w, r, subject(r))
}

func (h *Handler) MyWithdrawSavings(w http.ResponseWriter, r *http.Request) {
	var req models.AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ledger.WithdrawSavings(r.Context(), subject(r), req.Amount); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondBalance(w, r, subject(r))
}

func (h *Handler) MyInterest(w http.ResponseWriter, r *http.Request) {
	number := subject(r)
	interest, err := h.ledger.ApplyInterest(r.Context(), number)
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	acc, err := h.ledger.Account(r.Context(), number)
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.InterestResponse{Interest: interest, SavingsBalance: acc.SavingsBalance})
}

func (h *Handler) MyAirtime(w http.ResponseWriter, r *http.Request) {
	var req models.AirtimeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ledger.BuyAirtime(r.Context(), subject(r), req.Amount, req.Phone); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondBalance(w, r, subject(r))
}

func (h *Handler) MyPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.gate.ChangePassword(r.Context(), subject(r), req.OldPassword, req.NewPassword); err != nil {
		h.respondOutcome(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Staff endpoints. The account comes from the path.

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.ledger.CreateAccount(r.Context(), service.NewAccount{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Phone:          req.Phone,
		InitialDeposit: req.InitialDeposit,
	})
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.logger.Info("account opened", "account", acc.Number, "staff_id", subject(r))
	w.Header().Set("Location", "/api/v1/accounts/"+acc.Number)
	h.respondJSON(w, http.StatusCreated, models.CreateAccountResponse{Account: acc})
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.Accounts(r.Context())
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.respondJSON(w, http.StatusOK, accounts)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.ledger.Account(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, acc)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	if err := h.ledger.DeleteAccount(r.Context(), number); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.logger.Info("account removed by admin", "account", number, "staff_id", subject(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AccountHistory(w http.ResponseWriter, r *http.Request) {
	h.respondHistory(w, r, mux.Vars(r)["number"])
}

func (h *Handler) AgentDeposit(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	var req models.AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ledger.Deposit(r.Context(), number, req.Amount); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondBalance(w, r, number)
}

func (h *Handler) AgentWithdraw(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	var req models.AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ledger.Withdraw(r.Context(), number, req.Amount); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondBalance(w, r, number)
}

func (h *Handler) AgentResetPassword(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	var req models.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.gate.AgentResetPassword(r.Context(), number, req.NewPassword); err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.logger.Info("client password reset", "account", number, "staff_id", subject(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondBalance(w http.ResponseWriter, r *http.Request, number string) {
	acc, err := h.ledger.Account(r.Context(), number)
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.BalanceResponse{
		AccountNumber:  acc.Number,
		Balance:        acc.Balance,
		SavingsBalance: acc.SavingsBalance,
	})
}

func (h *Handler) respondHistory(w http.ResponseWriter, r *http.Request, number string) {
	limit, ok := historyLimit(r)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_input")
		return
	}
	records, err := h.ledger.History(r.Context(), number, limit)
	if err != nil {
		h.respondOutcome(w, err)
		return
	}
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	h.respondJSON(w, http.StatusOK, models.HistoryResponse{AccountNumber: number, Records: records})
}
