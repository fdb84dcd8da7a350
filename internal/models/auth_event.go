package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthEvent is an append-only record of an authentication state change.
type AuthEvent struct {
	ID        uuid.UUID              `json:"id" gorm:"type:uuid;primaryKey"`
	StateCode *string                `json:"stateCode,omitempty" gorm:"type:varchar(64);index"`
	Email     string                 `json:"email,omitempty" gorm:"type:varchar(255);index"`
	Action    string                 `json:"action" gorm:"type:varchar(50);not null;index"`
	Details   map[string]interface{} `json:"details,omitempty" gorm:"type:jsonb;serializer:json"`
	IPAddress string                 `json:"ipAddress" gorm:"type:varchar(45)"`
	RequestID string                 `json:"requestID,omitempty" gorm:"type:varchar(36)"`
	CreatedAt time.Time              `json:"createdAt" gorm:"not null;index"`
}

func (a *AuthEvent) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (AuthEvent) TableName() string {
	return "auth_events"
}

// All lists every persisted document type, in migration order.
func All() []interface{} {
	return []interface{}{
		&PendingRegistration{},
		&Corper{},
		&AuthChallenge{},
		&TwoFactorCode{},
		&PasswordReset{},
		&AuthEvent{},
	}
}
