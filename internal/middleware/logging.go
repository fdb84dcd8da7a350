package middleware

import (
	"time"

	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDKey = "requestID"

// RequestID returns the id RequestLogger assigned to the request.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := uuid.NewString()
		c.Locals(requestIDKey, requestID)
		c.Set("X-Request-ID", requestID)

		err := c.Next()

		latency := time.Since(start)
		statusCode := c.Response().StatusCode()
		userID := logger.GetUserIDFromContext(c)

		details := map[string]interface{}{
			"method":         c.Method(),
			"path":           c.Path(),
			"status_code":    statusCode,
			"latency_ms":     latency.Milliseconds(),
			"user_agent":     c.Get("User-Agent"),
			"ip":             c.IP(),
			"request_body":   logger.GetRequestBodySummary(c),
			"response_bytes": len(c.Response().Body()),
			"request_id":     requestID,
		}

		if userID != nil {
			if statusCode >= 400 {
				logger.ErrorWithUser(*userID, "http_request", err, details)
			} else {
				logger.InfoWithUser(*userID, "http_request", details)
			}
		} else {
			if statusCode >= 400 {
				logger.Error("http_request", err, details)
			} else {
				logger.Info("http_request", details)
			}
		}

		return err
	}
}

// SecurityLogger records rejected credentials, denied access and unknown
// routes as separate warnings.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		var reason string
		switch c.Response().StatusCode() {
		case fiber.StatusUnauthorized:
			reason = "unauthorized"
		case fiber.StatusForbidden:
			reason = "access_denied"
		case fiber.StatusNotFound:
			reason = "not_found"
		case fiber.StatusTooManyRequests:
			reason = "rate_limited"
		default:
			return err
		}

		userID := logger.GetUserIDFromContext(c)
		details := map[string]interface{}{
			"method":     c.Method(),
			"path":       c.Path(),
			"ip":         c.IP(),
			"reason":     reason,
			"request_id": RequestID(c),
		}

		if userID != nil {
			logger.WarnWithUser(*userID, reason, details)
		} else {
			logger.Warn(reason+"_unauthenticated", details)
		}

		return err
	}
}
