package models

import (
	"time"

	"github.com/google/uuid"
)

// BackupCode is one entry of a recovery batch. Only the bcrypt hash is stored;
// Used flips exactly once and consumed codes are never reissued.
type BackupCode struct {
	BaseModel
	AccountID uuid.UUID  `json:"-" gorm:"type:uuid;index;not null"`
	CodeHash  string     `json:"-" gorm:"type:text;not null"`
	Used      bool       `json:"-" gorm:"default:false;index"`
	UsedAt    *time.Time `json:"-"`
}
