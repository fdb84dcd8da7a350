package handlers

import (
	"time"

	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const apiVersion = "1.0.0"

func Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func Index(c *fiber.Ctx) error {
	return utils.Success(c, fiber.StatusOK, "NYSC CDS Backend API is running", fiber.Map{
		"version":   apiVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"endpoints": fiber.Map{
			"signup":      "POST /api/auth/signup",
			"verify":      "POST /api/auth/verify",
			"login":       "POST /api/auth/login",
			"verify2FA":   "POST /api/auth/verify-2fa",
			"resendCode":  "POST /api/auth/resend-code",
			"checkStatus": "GET /api/auth/status/:email",
		},
	})
}

// NotFound answers any unmatched route.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"success": false,
		"message": "Route not found",
		"path":    c.Path(),
		"method":  c.Method(),
	})
}
