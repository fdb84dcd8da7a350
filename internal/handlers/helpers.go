package handlers

import (
	"errors"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/middleware"
	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/services"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// Settings carries the parts of the config the HTTP layer needs.
type Settings struct {
	Production   bool
	CookieSecure bool
	SessionTTL   time.Duration
}

func getRequestID(c *fiber.Ctx) string {
	return middleware.RequestID(c)
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrDuplicateIdentity),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrInvalidCode),
		errors.Is(err, services.ErrCodeExpired):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrExpiredToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s Settings) respondError(c *fiber.Ctx, err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return utils.Error(c, statusFor(svcErr.Kind), svcErr.Message)
	}

	logger.Error("request_failed", err, map[string]interface{}{
		"method":     c.Method(),
		"path":       c.Path(),
		"request_id": getRequestID(c),
	})
	if s.Production {
		return utils.Error(c, fiber.StatusInternalServerError, "Internal server error")
	}
	return utils.ErrorWithDetail(c, fiber.StatusInternalServerError, "Internal server error", err.Error())
}

func (s Settings) setSessionCookie(c *fiber.Ctx, session *services.Session) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(s.SessionTTL.Seconds()),
		Expires:  session.ExpiresAt,
		Secure:   s.CookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (s Settings) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   s.CookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func corperPayload(corper *models.Corper) fiber.Map {
	return fiber.Map{
		"stateCode":        corper.StateCode,
		"firstName":        corper.FirstName,
		"lastName":         corper.LastName,
		"fullName":         corper.FullName(),
		"email":            corper.Email,
		"phone":            corper.Phone,
		"servingState":     corper.ServingState,
		"localGovernment":  corper.LocalGovernment,
		"ppa":              corper.PPA,
		"cdsGroup":         corper.CDSGroup,
		"status":           corper.Status,
		"twoFactorEnabled": corper.TwoFactorEnabled,
	}
}

func sessionPayload(session *services.Session) fiber.Map {
	return fiber.Map{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"corper":    corperPayload(session.Corper),
	}
}
