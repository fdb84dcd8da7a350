package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChallengeStore keeps the short-lived artifacts of a two-factor login:
// the pending login challenge and the emailed one-time code. Both are keyed
// by normalized state code. Consume methods delete the record only when it
// still holds the presented value, and report whether they did, so a given
// challenge or code can be redeemed by one caller only.
type ChallengeStore interface {
	SaveAuthChallenge(ctx context.Context, challenge *models.AuthChallenge) error
	GetAuthChallenge(ctx context.Context, stateCode string) (*models.AuthChallenge, error)
	ConsumeAuthChallenge(ctx context.Context, stateCode, tempToken string) (bool, error)
	DeleteAuthChallenge(ctx context.Context, stateCode string) error

	SaveTwoFactorCode(ctx context.Context, code *models.TwoFactorCode) error
	GetTwoFactorCode(ctx context.Context, stateCode string) (*models.TwoFactorCode, error)
	ConsumeTwoFactorCode(ctx context.Context, stateCode, code string) (bool, error)
	DeleteTwoFactorCode(ctx context.Context, stateCode string) error

	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type gormChallengeStore struct {
	db *gorm.DB
}

// NewGormChallengeStore keeps challenges in the main database.
func NewGormChallengeStore(db *gorm.DB) ChallengeStore {
	return &gormChallengeStore{db: db}
}

func (s *gormChallengeStore) SaveAuthChallenge(ctx context.Context, challenge *models.AuthChallenge) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(challenge).Error; err != nil {
		return fmt.Errorf("save auth challenge: %w", err)
	}
	return nil
}

func (s *gormChallengeStore) GetAuthChallenge(ctx context.Context, stateCode string) (*models.AuthChallenge, error) {
	var challenge models.AuthChallenge
	if err := s.db.WithContext(ctx).First(&challenge, "state_code = ?", stateCode).Error; err != nil {
		return nil, notFound(err)
	}
	return &challenge, nil
}

func (s *gormChallengeStore) ConsumeAuthChallenge(ctx context.Context, stateCode, tempToken string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&models.AuthChallenge{}, "state_code = ? AND temp_token = ?", stateCode, tempToken)
	if result.Error != nil {
		return false, fmt.Errorf("consume auth challenge: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *gormChallengeStore) DeleteAuthChallenge(ctx context.Context, stateCode string) error {
	if err := s.db.WithContext(ctx).Delete(&models.AuthChallenge{}, "state_code = ?", stateCode).Error; err != nil {
		return fmt.Errorf("delete auth challenge: %w", err)
	}
	return nil
}

func (s *gormChallengeStore) SaveTwoFactorCode(ctx context.Context, code *models.TwoFactorCode) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(code).Error; err != nil {
		return fmt.Errorf("save two-factor code: %w", err)
	}
	return nil
}

func (s *gormChallengeStore) GetTwoFactorCode(ctx context.Context, stateCode string) (*models.TwoFactorCode, error) {
	var code models.TwoFactorCode
	if err := s.db.WithContext(ctx).First(&code, "state_code = ?", stateCode).Error; err != nil {
		return nil, notFound(err)
	}
	return &code, nil
}

func (s *gormChallengeStore) ConsumeTwoFactorCode(ctx context.Context, stateCode, code string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&models.TwoFactorCode{}, "state_code = ? AND code = ?", stateCode, code)
	if result.Error != nil {
		return false, fmt.Errorf("consume two-factor code: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *gormChallengeStore) DeleteTwoFactorCode(ctx context.Context, stateCode string) error {
	if err := s.db.WithContext(ctx).Delete(&models.TwoFactorCode{}, "state_code = ?", stateCode).Error; err != nil {
		return fmt.Errorf("delete two-factor code: %w", err)
	}
	return nil
}

func (s *gormChallengeStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	challenges := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.AuthChallenge{})
	if challenges.Error != nil {
		return 0, challenges.Error
	}
	codes := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.TwoFactorCode{})
	if codes.Error != nil {
		return challenges.RowsAffected, codes.Error
	}
	return challenges.RowsAffected + codes.RowsAffected, nil
}
