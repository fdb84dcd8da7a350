package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
)

// LoginResult holds either a Session or, when the account has 2FA enabled,
// a pending Challenge. Never both.
type LoginResult struct {
	Session   *Session
	Challenge *Challenge
}

func (r *LoginResult) RequiresTwoFactor() bool {
	return r.Challenge != nil
}

// Challenge is an issued second step. TempToken authorizes only
// VerifyChallenge for StateCode.
type Challenge struct {
	StateCode string
	TempToken string
	Kind      models.ChallengeKind
	ExpiresAt time.Time
}

type LoginService struct {
	*core
}

func NewLoginService(deps Dependencies) *LoginService {
	return &LoginService{core: newCore(deps)}
}

// Login checks identifier and password. An identifier containing "@" is an
// email, anything else a state code.
func (s *LoginService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.TrimSpace(password) == "" {
		return nil, ValidationError("Email/State Code and password required")
	}

	var corper *models.Corper
	var err error
	if strings.Contains(identifier, "@") {
		corper, err = s.Store.FindCorperByEmail(ctx, NormalizeEmail(identifier))
	} else {
		corper, err = s.Store.FindCorperByStateCode(ctx, NormalizeStateCode(identifier))
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCorperNotFound
	}
	if err != nil {
		return nil, err
	}

	if !corper.IsActive() {
		return nil, ErrNotVerified
	}
	if !utils.CheckPassword(password, corper.PasswordHash) {
		logger.WarnWithUser(corper.StateCode, "login_invalid_password", nil)
		return nil, ErrInvalidPassword
	}

	if corper.TwoFactorEnabled {
		challenge, err := s.startChallenge(ctx, corper.StateCode, models.ChallengeKindTOTP)
		if err != nil {
			return nil, err
		}
		logger.InfoWithUser(corper.StateCode, "login_2fa_pending", nil)
		return &LoginResult{Challenge: challenge}, nil
	}

	session, err := s.issueSession(corper)
	if err != nil {
		return nil, err
	}
	logger.InfoWithUser(corper.StateCode, "login_success", nil)
	return &LoginResult{Session: session}, nil
}

// startChallenge replaces any open challenge for the corper with a new one.
func (c *core) startChallenge(ctx context.Context, stateCode string, kind models.ChallengeKind) (*Challenge, error) {
	token, expiresAt, err := c.Tokens.Issue(stateCode, utils.RoleTemp, 0)
	if err != nil {
		return nil, err
	}

	record := &models.AuthChallenge{
		StateCode: stateCode,
		TempToken: token,
		Kind:      kind,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: c.now(),
	}
	if err := c.Challenges.SaveAuthChallenge(ctx, record); err != nil {
		return nil, err
	}

	return &Challenge{
		StateCode: stateCode,
		TempToken: token,
		Kind:      kind,
		ExpiresAt: record.ExpiresAt,
	}, nil
}
