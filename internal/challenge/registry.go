package challenge

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/internal/stepup"
	"gorm.io/gorm"
)

const MinNonceSize = 16

// Registry issues and consumes single-use ceremony challenges. Consumption is
// a single conditional UPDATE so that concurrent consumers racing on the same
// challenge resolve to exactly one winner.
type Registry struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewRegistry(db *gorm.DB, ttl time.Duration) *Registry {
	return &Registry{DB: db, TTL: ttl}
}

// NewNonce returns a fresh random nonce suitable for Issue.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// Issue stores a challenge for one ceremony attempt. accountID is nil for
// pre-login ceremonies. sessionData carries the serialized ceremony session
// the verifier needs when the response comes back.
func (r *Registry) Issue(accountID *uuid.UUID, purpose models.ChallengePurpose, nonce []byte, sessionData string) (*models.Challenge, error) {
	if len(nonce) < MinNonceSize {
		return nil, fmt.Errorf("nonce too short: %d bytes", len(nonce))
	}

	ch := models.Challenge{
		AccountID:   accountID,
		Purpose:     purpose,
		Nonce:       nonce,
		SessionData: sessionData,
		ExpiresAt:   time.Now().Add(r.TTL),
	}
	if err := r.DB.Create(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// Consume marks the challenge consumed and returns it. A challenge that is
// missing, expired, already consumed, or bound to a different purpose fails
// with ErrChallengeInvalid. Expired rows are deleted eagerly.
func (r *Registry) Consume(id uuid.UUID, purpose models.ChallengePurpose) (*models.Challenge, error) {
	now := time.Now()

	res := r.DB.Model(&models.Challenge{}).
		Where("id = ? AND purpose = ? AND consumed = ? AND expires_at > ?", id, purpose, false, now).
		Updates(map[string]interface{}{"consumed": true, "consumed_at": now})
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		var existing models.Challenge
		err := r.DB.First(&existing, "id = ?", id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("%w: not found", stepup.ErrChallengeInvalid)
		case err != nil:
			return nil, err
		case existing.Purpose != purpose:
			return nil, fmt.Errorf("%w: purpose %q cannot satisfy %q", stepup.ErrChallengeInvalid, existing.Purpose, purpose)
		case existing.Consumed:
			return nil, fmt.Errorf("%w: already consumed", stepup.ErrChallengeInvalid)
		default:
			r.DB.Delete(&models.Challenge{}, "id = ?", id)
			return nil, fmt.Errorf("%w: expired", stepup.ErrChallengeInvalid)
		}
	}

	var ch models.Challenge
	if err := r.DB.First(&ch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// Sweep deletes expired and consumed challenges. Abandoned ceremonies expire
// naturally; this only reclaims storage.
func (r *Registry) Sweep() {
	r.DB.Where("expires_at < ? OR consumed = ?", time.Now(), true).Delete(&models.Challenge{})
}

// StartSweeper runs Sweep on a fixed interval for the life of the process.
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			r.Sweep()
		}
	}()
}
