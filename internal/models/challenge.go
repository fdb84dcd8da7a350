package models

import "time"

type ChallengeKind string

const (
	ChallengeKindTOTP  ChallengeKind = "totp"
	ChallengeKindEmail ChallengeKind = "email_code"
)

// AuthChallenge is the pending second step of a login. One per corper; a new
// login replaces it.
type AuthChallenge struct {
	StateCode string        `json:"stateCode" gorm:"type:varchar(64);primaryKey"`
	TempToken string        `json:"-" gorm:"type:text;not null"`
	Kind      ChallengeKind `json:"kind" gorm:"type:varchar(20);not null"`
	ExpiresAt time.Time     `json:"expiresAt" gorm:"not null;index"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (AuthChallenge) TableName() string {
	return "auth_challenges"
}

func (a *AuthChallenge) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// TwoFactorCode is an emailed one-time code standing in for a TOTP code.
type TwoFactorCode struct {
	StateCode string    `json:"stateCode" gorm:"type:varchar(64);primaryKey"`
	Code      string    `json:"-" gorm:"type:varchar(6);not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
	CreatedAt time.Time `json:"createdAt"`
}

func (TwoFactorCode) TableName() string {
	return "two_factor_codes"
}

func (t *TwoFactorCode) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
