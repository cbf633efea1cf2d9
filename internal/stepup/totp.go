package stepup

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/pkg/utils"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

// TOTPEngine is the single authoritative TOTP implementation: one secret per
// account in totp_secrets, enabled only after a confirmed code.
type TOTPEngine struct {
	DB     *gorm.DB
	Issuer string
}

func NewTOTPEngine(db *gorm.DB, issuer string) *TOTPEngine {
	return &TOTPEngine{DB: db, Issuer: issuer}
}

type Enrollment struct {
	Secret     string
	DisplayURI string
}

// BeginEnrollment generates a 160-bit secret and stores it unconfirmed.
// Calling it again before confirmation replaces the unconfirmed secret.
func (e *TOTPEngine) BeginEnrollment(accountID uuid.UUID, accountName string) (*Enrollment, error) {
	var existing models.TOTPSecret
	err := e.DB.First(&existing, "account_id = ?", accountID).Error
	if err == nil && existing.Enabled {
		return nil, ErrTotpAlreadyEnabled
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.Issuer,
		AccountName: accountName,
		SecretSize:  20,
	})
	if err != nil {
		return nil, err
	}

	encrypted, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return nil, err
	}

	if existing.ID != uuid.Nil {
		err = e.DB.Model(&existing).Updates(map[string]interface{}{
			"secret":       encrypted,
			"enabled":      false,
			"confirmed_at": nil,
		}).Error
	} else {
		err = e.DB.Create(&models.TOTPSecret{
			AccountID: accountID,
			Secret:    encrypted,
		}).Error
	}
	if err != nil {
		return nil, err
	}

	return &Enrollment{Secret: key.Secret(), DisplayURI: key.URL()}, nil
}

// ConfirmEnrollment flips the secret to enabled after one valid code.
func (e *TOTPEngine) ConfirmEnrollment(accountID uuid.UUID, code string) error {
	var secret models.TOTPSecret
	if err := e.DB.First(&secret, "account_id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTotpSetupMissing
		}
		return err
	}

	if secret.Enabled {
		return ErrTotpAlreadyEnabled
	}

	if !e.validate(code, secret.Secret) {
		return ErrInvalidTotpCode
	}

	now := time.Now()
	return e.DB.Model(&secret).Updates(map[string]interface{}{
		"enabled":      true,
		"confirmed_at": now,
	}).Error
}

// Verify checks a login code against the enabled secret for the account.
// Codes from the current and the two adjacent 30-second windows are accepted
// to bound clock skew; the comparison is constant time.
func (e *TOTPEngine) Verify(accountID uuid.UUID, code string) error {
	var secret models.TOTPSecret
	if err := e.DB.First(&secret, "account_id = ? AND enabled = ?", accountID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTotpNotEnabled
		}
		return err
	}

	if !e.validate(code, secret.Secret) {
		return ErrInvalidTotpCode
	}
	return nil
}

// Disable deletes the secret. Callers must have performed a fresh primary
// re-authentication first; a live session alone is not enough.
func (e *TOTPEngine) Disable(accountID uuid.UUID) error {
	res := e.DB.Where("account_id = ?", accountID).Delete(&models.TOTPSecret{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTotpNotEnabled
	}
	return nil
}

func (e *TOTPEngine) Enabled(accountID uuid.UUID) (bool, error) {
	var count int64
	err := e.DB.Model(&models.TOTPSecret{}).
		Where("account_id = ? AND enabled = ?", accountID, true).
		Count(&count).Error
	return count > 0, err
}

func (e *TOTPEngine) validate(code, encryptedSecret string) bool {
	plain := utils.DecryptOrPlaintext(encryptedSecret)
	ok, err := totp.ValidateCustom(code, plain, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// Status reports enrollment state without exposing the secret.
func (e *TOTPEngine) Status(accountID uuid.UUID) (enabled bool, confirmedAt *time.Time, err error) {
	var secret models.TOTPSecret
	err = e.DB.First(&secret, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("loading totp secret: %w", err)
	}
	return secret.Enabled, secret.ConfirmedAt, nil
}
