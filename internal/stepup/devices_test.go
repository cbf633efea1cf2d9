package stepup

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/models"
	"gorm.io/gorm"
)

func seedCredential(t *testing.T, db *gorm.DB, accountID uuid.UUID, label string) *models.Credential {
	t.Helper()

	cred := &models.Credential{
		AccountID:    accountID,
		CredentialID: []byte(uuid.NewString()),
		PublicKey:    []byte{0x01},
		DeviceLabel:  label,
	}
	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("failed seeding credential: %v", err)
	}
	return cred
}

func TestListExcludesRevoked(t *testing.T) {
	db := setupDB(t)
	registry := NewDeviceRegistry(db)
	accountID := uuid.New()

	seedCredential(t, db, accountID, "Laptop")
	revoked := seedCredential(t, db, accountID, "Old phone")
	seedCredential(t, db, uuid.New(), "Someone else's")

	if err := registry.Revoke(accountID, revoked.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	creds, err := registry.List(accountID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(creds) != 1 || creds[0].DeviceLabel != "Laptop" {
		t.Fatalf("expected only the active credential, got %+v", creds)
	}

	count, err := registry.ActiveCount(accountID)
	if err != nil || count != 1 {
		t.Fatalf("expected active count 1, got %d %v", count, err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	db := setupDB(t)
	registry := NewDeviceRegistry(db)
	accountID := uuid.New()
	cred := seedCredential(t, db, accountID, "Laptop")

	if err := registry.Revoke(accountID, cred.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := registry.Revoke(accountID, cred.ID); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}

	var reloaded models.Credential
	if err := db.First(&reloaded, "id = ?", cred.ID).Error; err != nil {
		t.Fatalf("revoked row must survive for the audit trail: %v", err)
	}
	if !reloaded.Revoked || reloaded.RevokedAt == nil {
		t.Fatal("credential not marked revoked")
	}
}

func TestRevokeUnknownDevice(t *testing.T) {
	registry := NewDeviceRegistry(setupDB(t))

	if err := registry.Revoke(uuid.New(), uuid.New()); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestRevokeIsScopedToAccount(t *testing.T) {
	db := setupDB(t)
	registry := NewDeviceRegistry(db)
	cred := seedCredential(t, db, uuid.New(), "Laptop")

	if err := registry.Revoke(uuid.New(), cred.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound for foreign account, got %v", err)
	}
}

func TestRename(t *testing.T) {
	db := setupDB(t)
	registry := NewDeviceRegistry(db)
	accountID := uuid.New()
	cred := seedCredential(t, db, accountID, "Laptop")

	if err := registry.Rename(accountID, cred.ID, "Work laptop"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	var reloaded models.Credential
	db.First(&reloaded, "id = ?", cred.ID)
	if reloaded.DeviceLabel != "Work laptop" {
		t.Fatalf("expected renamed label, got %q", reloaded.DeviceLabel)
	}

	if err := registry.Revoke(accountID, cred.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if err := registry.Rename(accountID, cred.ID, "Too late"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("renaming a revoked credential should fail, got %v", err)
	}
}
