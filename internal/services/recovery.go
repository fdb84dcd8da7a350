package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
)

type ResetInput struct {
	Email           string
	ResetCode       string
	NewPassword     string
	ConfirmPassword string
}

type RecoveryService struct {
	*core
}

func NewRecoveryService(deps Dependencies) *RecoveryService {
	return &RecoveryService{core: newCore(deps)}
}

// RequestReset emails a reset code, replacing any earlier one. The stored
// code survives a failed delivery so a retry simply overwrites it.
func (s *RecoveryService) RequestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return ValidationError("Email is required")
	}

	corper, err := s.Store.FindCorperByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrEmailNotFound
	}
	if err != nil {
		return err
	}

	code, err := utils.GenerateNumericCode()
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	if err := s.Store.SavePasswordReset(ctx, &models.PasswordReset{
		Email:       email,
		ResetCode:   code,
		ResetExpiry: s.now().Add(ResetCodeTTL),
		CreatedAt:   s.now(),
	}); err != nil {
		return err
	}

	if err := s.Mailer.SendPasswordReset(ctx, email, corper.FullName(), code); err != nil {
		logger.ErrorWithUser(corper.StateCode, "password_reset_email_failed", err, nil)
		return ErrResetDelivery
	}

	logger.InfoWithUser(corper.StateCode, "password_reset_requested", nil)
	return nil
}

// CompleteReset sets a new password. It does not sign the corper in.
func (s *RecoveryService) CompleteReset(ctx context.Context, in ResetInput) (*models.Corper, error) {
	in.Email = NormalizeEmail(in.Email)
	in.ResetCode = strings.TrimSpace(in.ResetCode)
	if anyBlank(in.Email, in.ResetCode, in.NewPassword, in.ConfirmPassword) {
		return nil, ErrAllFieldsRequired
	}
	if err := validatePassword(in.NewPassword, in.ConfirmPassword); err != nil {
		return nil, err
	}

	reset, err := s.Store.GetPasswordReset(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrResetNotFound
	}
	if err != nil {
		return nil, err
	}

	if !utils.CodesEqual(in.ResetCode, reset.ResetCode) {
		return nil, ErrInvalidResetCode
	}
	if reset.Expired(s.now()) {
		if err := s.Store.DeletePasswordReset(ctx, in.Email); err != nil {
			logger.Error("password_reset_cleanup_failed", err, map[string]interface{}{
				"email": in.Email,
			})
		}
		return nil, ErrResetCodeExpired
	}

	corper, err := s.Store.FindCorperByEmail(ctx, in.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCorperNotFound
	}
	if err != nil {
		return nil, err
	}

	consumed, err := s.Store.ConsumePasswordReset(ctx, in.Email, reset.ResetCode)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrResetNotFound
	}

	passwordHash, err := utils.HashPassword(in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.Store.UpdateCorper(ctx, corper.StateCode, map[string]interface{}{
		"password_hash": passwordHash,
	}); err != nil {
		return nil, err
	}

	logger.InfoWithUser(corper.StateCode, "password_reset", nil)
	return corper, nil
}
