package models

import (
	"encoding/json"
	"strings"
	"time"
)

type CorperStatus string

const (
	CorperStatusPending CorperStatus = "pending"
	CorperStatusActive  CorperStatus = "active"
)

// Profile holds the signup fields shared by a pending registration and the
// account it is promoted into.
type Profile struct {
	FirstName       string `json:"firstName" gorm:"type:varchar(100);not null"`
	LastName        string `json:"lastName" gorm:"type:varchar(100);not null"`
	Phone           string `json:"phone" gorm:"type:varchar(20);not null"`
	ServingState    string `json:"servingState" gorm:"type:varchar(100);not null"`
	LocalGovernment string `json:"localGovernment" gorm:"type:varchar(100);not null"`
	PPA             string `json:"ppa" gorm:"column:ppa;type:varchar(255);not null"`
	CDSGroup        string `json:"cdsGroup" gorm:"column:cds_group;type:varchar(100);not null"`
}

func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Corper is an activated account, keyed by its normalized state code.
type Corper struct {
	StateCode string `json:"stateCode" gorm:"type:varchar(64);primaryKey"`
	Email     string `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Profile   `gorm:"embedded"`

	PasswordHash     string       `json:"-" gorm:"type:text;not null"`
	IsVerified       bool         `json:"isVerified" gorm:"not null;default:false"`
	Status           CorperStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	RegistrationStep int          `json:"-" gorm:"not null;default:0"`
	VerifiedAt       *time.Time   `json:"verifiedAt,omitempty"`

	TwoFactorEnabled   bool       `json:"twoFactorEnabled" gorm:"not null;default:false"`
	TwoFactorSecret    string     `json:"-" gorm:"type:text"`
	BackupCodes        string     `json:"-" gorm:"type:text"`
	TwoFactorEnabledAt *time.Time `json:"twoFactorEnabledAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Corper) TableName() string {
	return "corpers"
}

func (c *Corper) IsActive() bool {
	return c.IsVerified && c.Status == CorperStatusActive
}

// BackupCodeHashes decodes the stored backup-code set. A missing or corrupt
// set reads as empty.
func (c *Corper) BackupCodeHashes() []string {
	if c.BackupCodes == "" {
		return nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(c.BackupCodes), &hashes); err != nil {
		return nil
	}
	return hashes
}

func EncodeBackupCodes(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(hashes)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
