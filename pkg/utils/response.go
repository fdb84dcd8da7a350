package utils

import "github.com/gofiber/fiber/v2"

func Success(c *fiber.Ctx, status int, message string, data interface{}) error {
	body := fiber.Map{
		"success": true,
		"message": message,
	}
	if data != nil {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// ErrorWithDetail attaches an internal error description. Only used outside
// production.
func ErrorWithDetail(c *fiber.Ctx, status int, message, detail string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
		"error":   detail,
	})
}
