package stepup

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/models"
	"gorm.io/gorm"
)

// DeviceRegistry is the persisted list of enrolled credentials per account.
type DeviceRegistry struct {
	DB *gorm.DB
}

func NewDeviceRegistry(db *gorm.DB) *DeviceRegistry {
	return &DeviceRegistry{DB: db}
}

// List returns the account's active credentials, newest first.
func (r *DeviceRegistry) List(accountID uuid.UUID) ([]models.Credential, error) {
	var creds []models.Credential
	err := r.DB.Where("account_id = ? AND revoked = ?", accountID, false).
		Order("created_at DESC").
		Find(&creds).Error
	return creds, err
}

// Revoke marks the credential revoked. Idempotent; the row is kept for the
// audit trail and other factors are untouched.
func (r *DeviceRegistry) Revoke(accountID, id uuid.UUID) error {
	var cred models.Credential
	if err := r.DB.First(&cred, "id = ? AND account_id = ?", id, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	if cred.Revoked {
		return nil
	}

	now := time.Now()
	return r.DB.Model(&cred).Updates(map[string]interface{}{
		"revoked":    true,
		"revoked_at": now,
	}).Error
}

// Rename updates the device label on an active credential.
func (r *DeviceRegistry) Rename(accountID, id uuid.UUID, label string) error {
	res := r.DB.Model(&models.Credential{}).
		Where("id = ? AND account_id = ? AND revoked = ?", id, accountID, false).
		Update("device_label", label)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ActiveCount reports how many credentials can still answer an assertion.
func (r *DeviceRegistry) ActiveCount(accountID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB.Model(&models.Credential{}).
		Where("account_id = ? AND revoked = ?", accountID, false).
		Count(&count).Error
	return count, err
}
