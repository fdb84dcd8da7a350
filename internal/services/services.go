package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/mailer"
	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
)

const (
	VerificationCodeTTL = 15 * time.Minute
	TwoFactorCodeTTL    = 5 * time.Minute
	ResetCodeTTL        = 60 * time.Minute

	minPasswordLength = 6
	phoneDigits       = 11
)

// Dependencies are the collaborators shared by the auth services. Keys live
// inside Vault and Tokens; nothing here is mutated after construction.
type Dependencies struct {
	Store      *store.Store
	Challenges store.ChallengeStore
	Mailer     mailer.Mailer
	Vault      *utils.Vault
	Tokens     *utils.TokenIssuer
	TOTPIssuer string
	Now        func() time.Time
}

type core struct {
	Dependencies
	background sync.WaitGroup
}

func newCore(deps Dependencies) *core {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TOTPIssuer == "" {
		deps.TOTPIssuer = "NYSC CDS Portal"
	}
	return &core{Dependencies: deps}
}

func (c *core) now() time.Time {
	return c.Now().UTC()
}

// Wait blocks until fire-and-forget work started by the service finishes.
func (c *core) Wait() {
	c.background.Wait()
}

// Session is a fully authenticated login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Corper    *models.Corper
}

func (c *core) issueSession(corper *models.Corper) (*Session, error) {
	token, expiresAt, err := c.Tokens.Issue(corper.StateCode, utils.RoleCorper, 0)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, Corper: corper}, nil
}

func (c *core) findCorperByStateCode(ctx context.Context, stateCode string) (*models.Corper, error) {
	corper, err := c.Store.FindCorperByStateCode(ctx, NormalizeStateCode(stateCode))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCorperNotFound
	}
	return corper, err
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeStateCode(stateCode string) string {
	return strings.ToUpper(strings.TrimSpace(stateCode))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return ValidationError("Valid email is required")
	}
	return nil
}

func validatePhone(phone string) error {
	if len(phone) != phoneDigits {
		return ValidationError("Valid phone number is required (11 digits)")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return ValidationError("Valid phone number is required (11 digits)")
		}
	}
	return nil
}

func validatePassword(password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	if len(password) < minPasswordLength {
		return ValidationError("Password must be at least 6 characters")
	}
	if !strings.ContainsAny(password, "0123456789") {
		return ValidationError("Password must contain a number")
	}
	return nil
}

func anyBlank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
