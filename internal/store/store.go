package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrEmailTaken     = errors.New("email already belongs to an account")
	ErrStateCodeTaken = errors.New("state code already belongs to an account")
)

// Store is the durable document store: corpers, pending registrations and
// password resets. Every method touches a single document.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) upsert(ctx context.Context, value interface{}) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

// Pending registrations

func (s *Store) SavePendingRegistration(ctx context.Context, pending *models.PendingRegistration) error {
	if err := s.upsert(ctx, pending); err != nil {
		return fmt.Errorf("save pending registration: %w", err)
	}
	return nil
}

func (s *Store) GetPendingRegistration(ctx context.Context, email string) (*models.PendingRegistration, error) {
	var pending models.PendingRegistration
	if err := s.db.WithContext(ctx).First(&pending, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return &pending, nil
}

func (s *Store) RotateVerificationCode(ctx context.Context, email, code string, expiry time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.PendingRegistration{}).
		Where("email = ?", email).
		Updates(map[string]interface{}{
			"verification_code":   code,
			"verification_expiry": expiry,
		})
	if result.Error != nil {
		return fmt.Errorf("rotate verification code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeletePendingRegistration(ctx context.Context, email string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&models.PendingRegistration{}, "email = ?", email)
	if result.Error != nil {
		return false, fmt.Errorf("delete pending registration: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Corpers

func (s *Store) FindCorperByEmail(ctx context.Context, email string) (*models.Corper, error) {
	var corper models.Corper
	if err := s.db.WithContext(ctx).First(&corper, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return &corper, nil
}

func (s *Store) FindCorperByStateCode(ctx context.Context, stateCode string) (*models.Corper, error) {
	var corper models.Corper
	if err := s.db.WithContext(ctx).First(&corper, "state_code = ?", stateCode).Error; err != nil {
		return nil, notFound(err)
	}
	return &corper, nil
}

// CheckIdentityAvailable reports which uniqueness key, if any, already
// belongs to an account.
func (s *Store) CheckIdentityAvailable(ctx context.Context, email, stateCode string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Corper{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}
	if err := s.db.WithContext(ctx).Model(&models.Corper{}).Where("state_code = ?", stateCode).Count(&count).Error; err != nil {
		return fmt.Errorf("check state code: %w", err)
	}
	if count > 0 {
		return ErrStateCodeTaken
	}
	return nil
}

// CreateCorper inserts the account only if neither its email nor its state
// code is already taken. The uniqueness constraints make this atomic, so two
// concurrent promotions cannot both succeed.
func (s *Store) CreateCorper(ctx context.Context, corper *models.Corper) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(corper)
	if result.Error != nil {
		return fmt.Errorf("create corper: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if err := s.CheckIdentityAvailable(ctx, corper.Email, corper.StateCode); err != nil {
		return err
	}
	return ErrStateCodeTaken
}

func (s *Store) UpdateCorper(ctx context.Context, stateCode string, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.Corper{}).
		Where("state_code = ?", stateCode).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update corper: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapBackupCodes replaces the stored backup-code set only if it still equals
// expected. A false result means another request changed it first.
func (s *Store) SwapBackupCodes(ctx context.Context, stateCode, expected, replacement string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Corper{}).
		Where("state_code = ? AND backup_codes = ? AND two_factor_enabled = ?", stateCode, expected, true).
		Update("backup_codes", replacement)
	if result.Error != nil {
		return false, fmt.Errorf("swap backup codes: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Password resets

func (s *Store) SavePasswordReset(ctx context.Context, reset *models.PasswordReset) error {
	if err := s.upsert(ctx, reset); err != nil {
		return fmt.Errorf("save password reset: %w", err)
	}
	return nil
}

func (s *Store) GetPasswordReset(ctx context.Context, email string) (*models.PasswordReset, error) {
	var reset models.PasswordReset
	if err := s.db.WithContext(ctx).First(&reset, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return &reset, nil
}

// ConsumePasswordReset deletes the reset only if it still carries code.
func (s *Store) ConsumePasswordReset(ctx context.Context, email, code string) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&models.PasswordReset{}, "email = ? AND reset_code = ?", email, code)
	if result.Error != nil {
		return false, fmt.Errorf("consume password reset: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) DeletePasswordReset(ctx context.Context, email string) error {
	if err := s.db.WithContext(ctx).Delete(&models.PasswordReset{}, "email = ?", email).Error; err != nil {
		return fmt.Errorf("delete password reset: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpiredPasswordResets(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("reset_expiry < ?", now).Delete(&models.PasswordReset{})
	return result.RowsAffected, result.Error
}
