package models

import (
	"time"

	"github.com/google/uuid"
)

// TOTPSecret holds one AES-GCM encrypted shared secret per account. Enabled
// stays false until the owner confirms enrollment with a valid code.
type TOTPSecret struct {
	BaseModel
	AccountID   uuid.UUID  `json:"accountID" gorm:"type:uuid;uniqueIndex;not null"`
	Secret      string     `json:"-" gorm:"type:text;not null"`
	Enabled     bool       `json:"enabled" gorm:"default:false"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}
