package auth

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := HashPassword("20022", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "20022" {
		t.Fatal("password stored in clear")
	}

	ok, err := ComparePassword(hash, "20022")
	if err != nil || !ok {
		t.Fatalf("ComparePassword(correct) = %v, %v", ok, err)
	}
	ok, err = ComparePassword(hash, "20023")
	if err != nil || ok {
		t.Fatalf("ComparePassword(wrong) = %v, %v", ok, err)
	}
	if _, err := ComparePassword("not-a-bcrypt-hash", "x"); err == nil {
		t.Fatal("malformed hash should surface an error")
	}
}

func TestHashPasswordOutOfRangeCost(t *testing.T) {
	hash, err := HashPassword("pw", 99)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("cost = %d, %v; want %d", cost, err, bcrypt.DefaultCost)
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatal("empty context carries a principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{Kind: KindForRole(domain.RoleAgent), Subject: "300"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.Kind != KindAgent || !p.IsStaff() {
		t.Fatalf("PrincipalFrom = %+v, %v", p, ok)
	}
	if (Principal{Kind: KindClient}).IsStaff() {
		t.Fatal("client reported as staff")
	}
}
