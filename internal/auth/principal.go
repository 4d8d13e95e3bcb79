package auth

import (
	"context"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// PrincipalKind is who a session belongs to.
type PrincipalKind string

const (
	KindClient PrincipalKind = "Client"
	KindAgent  PrincipalKind = "Agent"
	KindAdmin  PrincipalKind = "Admin"
)

func (k PrincipalKind) Valid() bool {
	return k == KindClient || k == KindAgent || k == KindAdmin
}

// KindForRole maps a staff role onto its session kind.
func KindForRole(r domain.Role) PrincipalKind {
	if r == domain.RoleAdmin {
		return KindAdmin
	}
	return KindAgent
}

// Principal is an authenticated caller. Subject is the account number for
// clients and the staff id for agents and admins. Credential is the
// CredentialVersion the session was issued against.
type Principal struct {
	Kind       PrincipalKind `json:"kind"`
	Subject    string        `json:"subject"`
	Credential string        `json:"-"`
}

func (p Principal) IsStaff() bool {
	return p.Kind == KindAgent || p.Kind == KindAdmin
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
