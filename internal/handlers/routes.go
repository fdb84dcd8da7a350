package handlers

import (
	"github.com/gloriousnetworker/nysc-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

// Routes bundles what RegisterRoutes needs.
type Routes struct {
	Auth      *AuthHandler
	TwoFactor *TwoFactorHandler
	Session   *middleware.AuthMiddleware
	Limiter   fiber.Handler
}

// RegisterRoutes mounts the auth API under /api/auth. The limiter guards
// every endpoint that accepts a credential or sends an email.
func RegisterRoutes(app *fiber.App, r Routes) {
	app.Get("/", Index)
	app.Get("/health", Health)

	limited := r.Limiter
	if limited == nil {
		limited = func(c *fiber.Ctx) error { return c.Next() }
	}
	requireSession := r.Session.RequireSession

	authRoutes := app.Group("/api/auth")
	authRoutes.Post("/signup", limited, r.Auth.Signup)
	authRoutes.Post("/verify", limited, r.Auth.Verify)
	authRoutes.Post("/login", limited, r.Auth.LoginCorper)
	authRoutes.Post("/resend-code", limited, r.Auth.ResendCode)
	authRoutes.Get("/status/:email", r.Auth.Status)
	authRoutes.Post("/continue-registration", limited, r.Auth.ContinueRegistration)
	authRoutes.Post("/forgot-password", limited, r.Auth.ForgotPassword)
	authRoutes.Post("/reset-password", limited, r.Auth.ResetPassword)
	authRoutes.Get("/me", requireSession, r.Auth.Me)
	authRoutes.Post("/logout", requireSession, r.Auth.Logout)

	authRoutes.Post("/verify-2fa", limited, r.TwoFactor.VerifyLogin)
	authRoutes.Post("/setup-2fa", requireSession, r.TwoFactor.Setup)
	authRoutes.Post("/verify-2fa-setup", limited, r.TwoFactor.VerifySetup)
	authRoutes.Post("/disable-2fa", requireSession, r.TwoFactor.Disable)
	authRoutes.Post("/generate-backup-codes", requireSession, r.TwoFactor.RegenerateBackupCodes)
	authRoutes.Post("/send-2fa-code", limited, r.TwoFactor.SendCode)
	authRoutes.Post("/verify-email-2fa", limited, r.TwoFactor.VerifyEmailCode)

	app.Use(NotFound)
}
