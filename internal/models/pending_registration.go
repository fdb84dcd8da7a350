package models

import "time"

// RegistrationStepVerifyEmail is the step a signup waits on until the
// emailed code is confirmed.
const RegistrationStepVerifyEmail = 2

type PendingRegistration struct {
	Email     string `json:"email" gorm:"type:varchar(255);primaryKey"`
	StateCode string `json:"stateCode" gorm:"type:varchar(64);not null;index"`
	Profile   `gorm:"embedded"`

	PasswordHash       string    `json:"-" gorm:"type:text;not null"`
	VerificationCode   string    `json:"-" gorm:"type:varchar(6);not null"`
	VerificationExpiry time.Time `json:"-" gorm:"not null"`
	RegistrationStep   int       `json:"registrationStep" gorm:"not null;default:2"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (PendingRegistration) TableName() string {
	return "pending_registrations"
}

func (p *PendingRegistration) Expired(now time.Time) bool {
	return now.After(p.VerificationExpiry)
}
