package stepup

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/pkg/utils"
	"gorm.io/gorm"
)

// BackupCodeVault issues single-use recovery codes. Plaintext codes leave the
// vault exactly once, at generation; only bcrypt hashes are stored.
type BackupCodeVault struct {
	DB     *gorm.DB
	Count  int
	Length int
}

func NewBackupCodeVault(db *gorm.DB, count, length int) *BackupCodeVault {
	if count <= 0 {
		count = 10
	}
	if length <= 0 {
		length = 8
	}
	return &BackupCodeVault{DB: db, Count: count, Length: length}
}

// Generate replaces the account's batch with Count fresh codes and returns
// them in clear. Consumed codes from older batches are never revived.
func (v *BackupCodeVault) Generate(accountID uuid.UUID) ([]string, error) {
	codes := make([]string, 0, v.Count)
	rows := make([]models.BackupCode, 0, v.Count)

	for i := 0; i < v.Count; i++ {
		raw := make([]byte, (v.Length+1)/2)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		code := hex.EncodeToString(raw)[:v.Length]

		hash, err := utils.HashPassword(code)
		if err != nil {
			return nil, err
		}

		codes = append(codes, code)
		rows = append(rows, models.BackupCode{AccountID: accountID, CodeHash: hash})
	}

	err := v.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&models.BackupCode{}).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	return codes, nil
}

// Consume burns the matching unused code. The flip to used is a conditional
// UPDATE keyed on used=false, so concurrent attempts with the same code yield
// success for exactly one caller.
func (v *BackupCodeVault) Consume(accountID uuid.UUID, code string) error {
	var rows []models.BackupCode
	if err := v.DB.Where("account_id = ? AND used = ?", accountID, false).Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		if !utils.CheckPassword(code, row.CodeHash) {
			continue
		}

		now := time.Now()
		res := v.DB.Model(&models.BackupCode{}).
			Where("id = ? AND used = ?", row.ID, false).
			Updates(map[string]interface{}{"used": true, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent consumer.
			return ErrInvalidBackupCode
		}
		return nil
	}

	return ErrInvalidBackupCode
}

// Remaining reports the unused count so callers can warn the owner when the
// batch runs low.
func (v *BackupCodeVault) Remaining(accountID uuid.UUID) (int64, error) {
	var count int64
	err := v.DB.Model(&models.BackupCode{}).
		Where("account_id = ? AND used = ?", accountID, false).
		Count(&count).Error
	return count, err
}

// HasCodes reports whether the account has ever been issued a batch.
func (v *BackupCodeVault) HasCodes(accountID uuid.UUID) (bool, error) {
	var count int64
	err := v.DB.Model(&models.BackupCode{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	return count > 0, err
}
