package models

import "time"

type PasswordReset struct {
	Email       string    `json:"email" gorm:"type:varchar(255);primaryKey"`
	ResetCode   string    `json:"-" gorm:"type:varchar(6);not null"`
	ResetExpiry time.Time `json:"resetExpiry" gorm:"not null;index"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (PasswordReset) TableName() string {
	return "password_resets"
}

func (p *PasswordReset) Expired(now time.Time) bool {
	return now.After(p.ResetExpiry)
}
