package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
)

const welcomeEmailTimeout = 30 * time.Second

type SignupInput struct {
	models.Profile
	Email           string
	StateCode       string
	Password        string
	ConfirmPassword string
}

func (in *SignupInput) validate() error {
	if anyBlank(
		in.FirstName, in.LastName, in.Email, in.Phone, in.StateCode,
		in.ServingState, in.LocalGovernment, in.PPA, in.CDSGroup,
		in.Password, in.ConfirmPassword,
	) {
		return ErrAllFieldsRequired
	}
	if in.Password != in.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if err := validatePhone(in.Phone); err != nil {
		return err
	}
	return validatePassword(in.Password, in.ConfirmPassword)
}

type PendingIdentity struct {
	Email     string
	StateCode string
}

// RegistrationStatus describes where an email stands in signup. Step is set
// for pending registrations, TwoFactorEnabled for verified accounts.
type RegistrationStatus struct {
	Status           string
	Email            string
	StateCode        string
	Name             string
	Step             int
	TwoFactorEnabled bool
}

const (
	RegistrationStatusPending  = "pending"
	RegistrationStatusVerified = "verified"
)

// RegistrationService moves a signup from pending to an active account.
type RegistrationService struct {
	*core
}

func NewRegistrationService(deps Dependencies) *RegistrationService {
	return &RegistrationService{core: newCore(deps)}
}

// Begin stores a pending registration and emails its verification code. If
// the email cannot be sent the pending record is removed again.
func (s *RegistrationService) Begin(ctx context.Context, in SignupInput) (*PendingIdentity, error) {
	in.Email = NormalizeEmail(in.Email)
	in.StateCode = NormalizeStateCode(in.StateCode)
	if err := in.validate(); err != nil {
		return nil, err
	}

	if err := s.Store.CheckIdentityAvailable(ctx, in.Email, in.StateCode); err != nil {
		return nil, identityError(err)
	}

	passwordHash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := utils.GenerateNumericCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	pending := &models.PendingRegistration{
		Email:              in.Email,
		StateCode:          in.StateCode,
		Profile:            in.Profile,
		PasswordHash:       passwordHash,
		VerificationCode:   code,
		VerificationExpiry: s.now().Add(VerificationCodeTTL),
		RegistrationStep:   models.RegistrationStepVerifyEmail,
	}
	if err := s.Store.SavePendingRegistration(ctx, pending); err != nil {
		return nil, err
	}

	if err := s.Mailer.SendVerificationCode(ctx, in.Email, in.FullName(), code); err != nil {
		logger.Error("verification_email_failed", err, map[string]interface{}{
			"email": in.Email,
		})
		if _, delErr := s.Store.DeletePendingRegistration(ctx, in.Email); delErr != nil {
			logger.Error("pending_registration_rollback_failed", delErr, map[string]interface{}{
				"email": in.Email,
			})
		}
		return nil, ErrVerificationDelivery
	}

	logger.Info("registration_pending", map[string]interface{}{
		"email":      in.Email,
		"state_code": in.StateCode,
	})

	return &PendingIdentity{Email: in.Email, StateCode: in.StateCode}, nil
}

// Confirm promotes the pending registration into an active account and
// signs the corper in. An expired code leaves the pending record in place
// for a resend.
func (s *RegistrationService) Confirm(ctx context.Context, email, code string) (*Session, error) {
	email = NormalizeEmail(email)
	if anyBlank(email, code) {
		return nil, ValidationError("Email and verification code required")
	}

	pending, err := s.Store.GetPendingRegistration(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}

	if !utils.CodesEqual(code, pending.VerificationCode) {
		return nil, ErrInvalidVerificationCode
	}
	if pending.Expired(s.now()) {
		return nil, ErrVerificationCodeExpired
	}

	verifiedAt := s.now()
	corper := &models.Corper{
		StateCode:        pending.StateCode,
		Email:            pending.Email,
		Profile:          pending.Profile,
		PasswordHash:     pending.PasswordHash,
		IsVerified:       true,
		Status:           models.CorperStatusActive,
		RegistrationStep: pending.RegistrationStep,
		VerifiedAt:       &verifiedAt,
	}
	if err := s.Store.CreateCorper(ctx, corper); err != nil {
		return nil, identityError(err)
	}

	if _, err := s.Store.DeletePendingRegistration(ctx, email); err != nil {
		logger.Error("pending_registration_cleanup_failed", err, map[string]interface{}{
			"email": email,
		})
	}

	session, err := s.issueSession(corper)
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(corper.StateCode, "corper_verified", map[string]interface{}{
		"email": corper.Email,
	})

	s.sendWelcome(corper.Email, corper.FullName())

	return session, nil
}

func (s *RegistrationService) sendWelcome(email, name string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), welcomeEmailTimeout)
		defer cancel()
		if err := s.Mailer.SendWelcome(ctx, email, name); err != nil {
			logger.Error("welcome_email_failed", err, map[string]interface{}{
				"email": email,
			})
		}
	}()
}

// Resend rotates the verification code of an existing pending registration.
// A failed delivery is reported but the new code stays stored.
func (s *RegistrationService) Resend(ctx context.Context, email string) error {
	_, err := s.rotate(ctx, email, ErrResendDelivery)
	return err
}

// Continue resumes an abandoned signup: it rotates the code like Resend and
// reports which identity is pending.
func (s *RegistrationService) Continue(ctx context.Context, email string) (*PendingIdentity, error) {
	pending, err := s.rotate(ctx, email, ErrContinueDelivery)
	if err != nil {
		return nil, err
	}
	return &PendingIdentity{Email: pending.Email, StateCode: pending.StateCode}, nil
}

func (s *RegistrationService) rotate(ctx context.Context, email string, deliveryErr *Error) (*models.PendingRegistration, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ValidationError("Email is required")
	}

	pending, err := s.Store.GetPendingRegistration(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}

	code, err := utils.GenerateNumericCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}
	if err := s.Store.RotateVerificationCode(ctx, email, code, s.now().Add(VerificationCodeTTL)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPendingNotFound
		}
		return nil, err
	}

	if err := s.Mailer.SendVerificationCode(ctx, email, pending.FullName(), code); err != nil {
		logger.Error("verification_email_failed", err, map[string]interface{}{
			"email":  email,
			"resend": true,
		})
		return nil, deliveryErr
	}

	logger.Info("verification_code_rotated", map[string]interface{}{
		"email": email,
	})
	return pending, nil
}

func (s *RegistrationService) Status(ctx context.Context, email string) (*RegistrationStatus, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ValidationError("Email is required")
	}

	pending, err := s.Store.GetPendingRegistration(ctx, email)
	if err == nil {
		step := pending.RegistrationStep
		if step == 0 {
			step = models.RegistrationStepVerifyEmail
		}
		return &RegistrationStatus{
			Status:    RegistrationStatusPending,
			Email:     pending.Email,
			StateCode: pending.StateCode,
			Name:      pending.FullName(),
			Step:      step,
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	corper, err := s.Store.FindCorperByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, err
	}

	return &RegistrationStatus{
		Status:           RegistrationStatusVerified,
		Email:            corper.Email,
		StateCode:        corper.StateCode,
		Name:             corper.FullName(),
		TwoFactorEnabled: corper.TwoFactorEnabled,
	}, nil
}

func identityError(err error) error {
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return ErrDuplicateEmail
	case errors.Is(err, store.ErrStateCodeTaken):
		return ErrDuplicateStateCode
	default:
		return err
	}
}
