package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/auth"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/store"
)

// AgentResetNote is the counterparty of a Password_Reset log entry.
const AgentResetNote = "Agent Reset"

// StaffSeed is a default staff identity created at start-up.
type StaffSeed struct {
	ID       string
	Password string
	Role     domain.Role
}

// DefaultStaff are the identities seeded on a fresh store.
var DefaultStaff = []StaffSeed{
	{ID: "admin", Password: "admin123", Role: domain.RoleAdmin},
	{ID: "300", Password: "456", Role: domain.RoleAgent},
}

// AuthGate verifies credentials and manages client passwords.
type AuthGate struct {
	core

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthGate(s store.Store, opts Options) *AuthGate {
	return &AuthGate{core: core{store: s, opts: opts.withDefaults()}}
}

// VerifyStaff reports whether id exists with the given role and password.
func (g *AuthGate) VerifyStaff(ctx context.Context, id, password string, role domain.Role) (bool, error) {
	_, ok, err := g.AuthenticateStaff(ctx, id, password, role)
	return ok, err
}

// AuthenticateStaff checks staff credentials and returns the credential
// version a session for them must carry.
func (g *AuthGate) AuthenticateStaff(ctx context.Context, id, password string, role domain.Role) (string, bool, error) {
	if !role.Valid() {
		return "", false, nil
	}
	staff, err := g.store.GetStaff(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		g.burnCompare(password)
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("verify_staff", err)
	}
	ok, err := auth.ComparePassword(staff.PasswordHash, password)
	if err != nil {
		return "", false, classify("verify_staff", err)
	}
	if !ok || staff.Role != role {
		return "", false, nil
	}
	return auth.CredentialVersion(staff.PasswordHash), true, nil
}

// VerifyClient reports whether the account exists and password matches it.
func (g *AuthGate) VerifyClient(ctx context.Context, number, password string) (bool, error) {
	_, ok, err := g.AuthenticateClient(ctx, number, password)
	return ok, err
}

// AuthenticateClient checks a client's password and returns the credential
// version a session for the account must carry.
func (g *AuthGate) AuthenticateClient(ctx context.Context, number, password string) (string, bool, error) {
	acc, err := g.store.GetAccount(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		g.burnCompare(password)
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("verify_client", err)
	}
	ok, err := auth.ComparePassword(acc.PasswordHash, password)
	if err != nil {
		return "", false, classify("verify_client", err)
	}
	if !ok {
		return "", false, nil
	}
	return auth.CredentialVersion(acc.PasswordHash), true, nil
}

// SessionCurrent reports whether p still matches the credentials it was
// issued against. A changed password, a deleted account and an account
// reopened under the same number all end the session.
func (g *AuthGate) SessionCurrent(ctx context.Context, p auth.Principal) (bool, error) {
	var hash string
	switch {
	case p.Kind == auth.KindClient:
		acc, err := g.store.GetAccount(ctx, p.Subject)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, classify("check_session", err)
		}
		hash = acc.PasswordHash
	case p.IsStaff():
		staff, err := g.store.GetStaff(ctx, p.Subject)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, classify("check_session", err)
		}
		if auth.KindForRole(staff.Role) != p.Kind {
			return false, nil
		}
		hash = staff.PasswordHash
	default:
		return false, nil
	}
	if p.Credential == "" {
		return false, nil
	}
	return p.Credential == auth.CredentialVersion(hash), nil
}

// ChangePassword replaces a client's password after re-checking the old
// one under the account's row lock. An unknown account is reported as
// ErrInvalidOldPassword.
func (g *AuthGate) ChangePassword(ctx context.Context, number, oldPassword, newPassword string) error {
	const op = "change_password"
	attrs := []any{"account", number}
	if strings.TrimSpace(newPassword) == "" {
		return g.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidPassword)
	}
	hash, err := auth.HashPassword(newPassword, g.opts.BcryptCost)
	if err != nil {
		return g.finish(ctx, op, time.Now(), attrs, nil, fmt.Errorf("hash password: %w", err))
	}
	return g.execute(ctx, op, attrs, func(u *unit) error {
		acc, err := u.lock(ctx, number, ErrInvalidOldPassword)
		if err != nil {
			return err
		}
		ok, err := auth.ComparePassword(acc.PasswordHash, oldPassword)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidOldPassword
		}
		return u.tx.UpdatePasswordHash(ctx, number, hash)
	})
}

// AgentResetPassword sets a client's password without the old one and logs
// a zero-amount Password_Reset entry noting the agent reset.
func (g *AuthGate) AgentResetPassword(ctx context.Context, number, newPassword string) error {
	const op = "agent_reset_password"
	attrs := []any{"account", number}
	if strings.TrimSpace(newPassword) == "" {
		return g.finish(ctx, op, time.Now(), attrs, nil, ErrInvalidPassword)
	}
	hash, err := auth.HashPassword(newPassword, g.opts.BcryptCost)
	if err != nil {
		return g.finish(ctx, op, time.Now(), attrs, nil, fmt.Errorf("hash password: %w", err))
	}
	return g.execute(ctx, op, attrs, func(u *unit) error {
		if _, err := u.lock(ctx, number, ErrAccountNotFound); err != nil {
			return err
		}
		if err := u.tx.UpdatePasswordHash(ctx, number, hash); err != nil {
			return err
		}
		return u.record(ctx, number, domain.KindPasswordReset, decimal.Zero, AgentResetNote)
	})
}

// SeedStaff creates each identity that does not exist yet. Existing ids are
// left untouched, so repeated seeding is a no-op.
func (g *AuthGate) SeedStaff(ctx context.Context, seeds []StaffSeed) error {
	for _, seed := range seeds {
		if seed.ID == "" || !seed.Role.Valid() {
			return fmt.Errorf("seed staff %q: %w", seed.ID, ErrInvalidInput)
		}
		_, err := g.store.GetStaff(ctx, seed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return classify("seed_staff", err)
		}
		hash, err := auth.HashPassword(seed.Password, g.opts.BcryptCost)
		if err != nil {
			return fmt.Errorf("seed staff %q: %w", seed.ID, err)
		}
		created, err := g.store.EnsureStaff(ctx, domain.StaffPrincipal{ID: seed.ID, PasswordHash: hash, Role: seed.Role})
		if err != nil {
			return classify("seed_staff", err)
		}
		if created {
			g.opts.Logger.Info("staff principal seeded", "staff_id", seed.ID, "role", string(seed.Role))
		}
	}
	return nil
}

// burnCompare spends a bcrypt comparison so unknown ids cost as much as wrong passwords.
func (g *AuthGate) burnCompare(password string) {
	g.dummyOnce.Do(func() {
		g.dummyHash, _ = auth.HashPassword("not-a-real-password", g.opts.BcryptCost)
	})
	if g.dummyHash != "" {
		_, _ = auth.ComparePassword(g.dummyHash, password)
	}
}
