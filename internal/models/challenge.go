package models

import (
	"time"

	"github.com/google/uuid"
)

type ChallengePurpose string

const (
	ChallengeRegister     ChallengePurpose = "register"
	ChallengeAuthenticate ChallengePurpose = "authenticate"
)

// Challenge is a single-use ceremony nonce. AccountID is nil for pre-login
// ceremonies. Consumed flips exactly once; expired rows are swept eagerly.
type Challenge struct {
	BaseModel
	AccountID   *uuid.UUID       `json:"-" gorm:"type:uuid;index"`
	Purpose     ChallengePurpose `json:"-" gorm:"type:varchar(20);not null"`
	Nonce       []byte           `json:"-" gorm:"type:bytea;not null"`
	SessionData string           `json:"-" gorm:"type:text;not null"`
	ExpiresAt   time.Time        `json:"-" gorm:"not null;index"`
	Consumed    bool             `json:"-" gorm:"default:false"`
	ConsumedAt  *time.Time       `json:"-"`
}
