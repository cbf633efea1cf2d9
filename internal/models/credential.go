package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is an enrolled platform-authenticator credential. Rows are never
// deleted; revocation flips Revoked so the audit trail survives.
type Credential struct {
	BaseModel
	AccountID       uuid.UUID  `json:"accountID" gorm:"type:uuid;index;not null"`
	CredentialID    []byte     `json:"-" gorm:"type:bytea;uniqueIndex;not null"`
	PublicKey       []byte     `json:"-" gorm:"type:bytea;not null"`
	AttestationType string     `json:"-" gorm:"type:varchar(64)"`
	AAGUID          []byte     `json:"-" gorm:"type:bytea"`
	SignCount       uint32     `json:"-" gorm:"default:0"`
	DeviceLabel     string     `json:"deviceLabel" gorm:"type:varchar(255);not null"`
	Transports      string     `json:"-" gorm:"type:text"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
	BackupEligible  bool       `json:"backupEligible" gorm:"default:false"`
	BackupState     bool       `json:"backupState" gorm:"default:false"`
	Revoked         bool       `json:"-" gorm:"default:false;index"`
	RevokedAt       *time.Time `json:"-"`
	CloneWarning    bool       `json:"-" gorm:"default:false"`
}
