package middleware

import (
	"errors"
	"strings"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// SessionCookie carries the signed session token.
const SessionCookie = "nysc_token"

const (
	currentCorperKey = "currentCorper"
	userIDKey        = "userID"
)

type AuthMiddleware struct {
	Store  *store.Store
	Tokens *utils.TokenIssuer
}

func NewAuthMiddleware(s *store.Store, tokens *utils.TokenIssuer) *AuthMiddleware {
	return &AuthMiddleware{Store: s, Tokens: tokens}
}

// CORS allows the configured frontend origin to send the session cookie.
func CORS(frontendURL string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     frontendURL,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// sessionToken prefers the cookie and falls back to a bearer header.
func sessionToken(c *fiber.Ctx) string {
	if token := strings.TrimSpace(c.Cookies(SessionCookie)); token != "" {
		return token
	}
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if token == authHeader {
		return ""
	}
	return token
}

func (a *AuthMiddleware) RequireSession(c *fiber.Ctx) error {
	token := sessionToken(c)
	if token == "" {
		logger.Warn("session_missing_token", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "No token provided")
	}

	claims, err := a.Tokens.Verify(token)
	if err != nil {
		logger.Warn("session_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		if errors.Is(err, utils.ErrExpiredToken) {
			return utils.Error(c, fiber.StatusUnauthorized, "Token expired")
		}
		return utils.Error(c, fiber.StatusUnauthorized, "Invalid token")
	}

	// Temp tokens only authorize the second login step.
	if claims.Role != utils.RoleCorper {
		logger.Warn("session_wrong_role", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
			"role": string(claims.Role),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Invalid token")
	}

	corper, err := a.Store.FindCorperByStateCode(c.UserContext(), claims.StateCode)
	if err != nil {
		logger.Warn("session_corper_not_found", map[string]interface{}{
			"ip":         c.IP(),
			"path":       c.Path(),
			"state_code": claims.StateCode,
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Invalid token")
	}

	c.Locals(currentCorperKey, corper)
	c.Locals(userIDKey, corper.StateCode)
	return c.Next()
}

func GetCurrentCorper(c *fiber.Ctx) *models.Corper {
	value := c.Locals(currentCorperKey)
	if value == nil {
		return nil
	}
	corper, ok := value.(*models.Corper)
	if !ok {
		return nil
	}
	return corper
}
