package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	ConfigureJWT("test-secret", 24)

	accountID := uuid.New()
	token, err := GenerateToken(accountID, "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.AccountID != accountID {
		t.Fatalf("expected account %s, got %s", accountID, claims.AccountID)
	}
	if claims.Email != "owner@example.com" || claims.DisplayName != "Owner" {
		t.Fatalf("claims lost identity fields: %+v", claims)
	}
	if claims.Subject != accountID.String() {
		t.Fatalf("subject should mirror the account ID, got %q", claims.Subject)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	ConfigureJWT("test-secret", 24)

	token, err := GenerateToken(uuid.New(), "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := ValidateToken(tampered); err == nil {
		t.Fatal("tampered token must not validate")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	ConfigureJWT("first-secret", 24)
	token, err := GenerateToken(uuid.New(), "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	ConfigureJWT("second-secret", 24)
	t.Cleanup(func() { ConfigureJWT("test-secret", 24) })

	if _, err := ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret must not validate")
	}
}
