package handlers

import (
	"net/url"

	"github.com/gloriousnetworker/nysc-backend/internal/middleware"
	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/services"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	Registration *services.RegistrationService
	Login        *services.LoginService
	Recovery     *services.RecoveryService
	Audit        *services.AuditService
	Settings     Settings
}

func NewAuthHandler(
	registration *services.RegistrationService,
	login *services.LoginService,
	recovery *services.RecoveryService,
	audit *services.AuditService,
	settings Settings,
) *AuthHandler {
	return &AuthHandler{
		Registration: registration,
		Login:        login,
		Recovery:     recovery,
		Audit:        audit,
		Settings:     settings,
	}
}

type signupRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	StateCode       string `json:"stateCode"`
	ServingState    string `json:"servingState"`
	LocalGovernment string `json:"localGovernment"`
	PPA             string `json:"ppa"`
	CDSGroup        string `json:"cdsGroup"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	pending, err := h.Registration.Begin(c.UserContext(), services.SignupInput{
		Profile: models.Profile{
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			Phone:           req.Phone,
			ServingState:    req.ServingState,
			LocalGovernment: req.LocalGovernment,
			PPA:             req.PPA,
			CDSGroup:        req.CDSGroup,
		},
		Email:           req.Email,
		StateCode:       req.StateCode,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		StateCode: pending.StateCode,
		Email:     pending.Email,
		Action:    services.AuditRegister,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, "Registration successful! Check email for verification code.", fiber.Map{
		"email":     pending.Email,
		"stateCode": pending.StateCode,
	})
}

type verifyEmailRequest struct {
	Email            string `json:"email"`
	VerificationCode string `json:"verificationCode"`
}

func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req verifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	session, err := h.Registration.Confirm(c.UserContext(), req.Email, req.VerificationCode)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	h.Settings.setSessionCookie(c, session)
	h.Audit.LogAsync(services.AuditEntry{
		StateCode: session.Corper.StateCode,
		Email:     session.Corper.Email,
		Action:    services.AuditVerify,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, "Email verified successfully!", sessionPayload(session))
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	StateCode  string `json:"stateCode"`
	Password   string `json:"password"`
}

// identifier accepts the combined field or either of the specific ones.
func (r loginRequest) identifier() string {
	switch {
	case r.Identifier != "":
		return r.Identifier
	case r.Email != "":
		return r.Email
	default:
		return r.StateCode
	}
}

func (h *AuthHandler) LoginCorper(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.Login.Login(c.UserContext(), req.identifier(), req.Password)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	if result.RequiresTwoFactor() {
		h.Audit.LogAsync(services.AuditEntry{
			StateCode: result.Challenge.StateCode,
			Action:    services.AuditLoginTwoFactorPending,
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})
		return utils.Success(c, fiber.StatusOK, "2FA verification required", fiber.Map{
			"requires2FA": true,
			"tempToken":   result.Challenge.TempToken,
			"stateCode":   result.Challenge.StateCode,
			"expiresAt":   result.Challenge.ExpiresAt,
		})
	}

	h.Settings.setSessionCookie(c, result.Session)
	h.Audit.LogAsync(services.AuditEntry{
		StateCode: result.Session.Corper.StateCode,
		Action:    services.AuditLogin,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, "Login successful", sessionPayload(result.Session))
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ResendCode(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.Registration.Resend(c.UserContext(), req.Email); err != nil {
		return h.Settings.respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, "New verification code sent", nil)
}

func (h *AuthHandler) Status(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid email")
	}

	status, err := h.Registration.Status(c.UserContext(), email)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	data := fiber.Map{
		"status":    status.Status,
		"email":     status.Email,
		"stateCode": status.StateCode,
		"name":      status.Name,
	}
	if status.Status == services.RegistrationStatusPending {
		data["step"] = status.Step
	} else {
		data["twoFactorEnabled"] = status.TwoFactorEnabled
	}
	return utils.Success(c, fiber.StatusOK, "Registration status", data)
}

func (h *AuthHandler) ContinueRegistration(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	pending, err := h.Registration.Continue(c.UserContext(), req.Email)
	if err != nil {
		return h.Settings.respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, "Verification code resent. Check your email.", fiber.Map{
		"email":     pending.Email,
		"stateCode": pending.StateCode,
	})
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.Recovery.RequestReset(c.UserContext(), req.Email); err != nil {
		return h.Settings.respondError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		Email:     services.NormalizeEmail(req.Email),
		Action:    services.AuditPasswordResetRequested,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})
	return utils.Success(c, fiber.StatusOK, "Password reset code sent to your email", nil)
}

type resetPasswordRequest struct {
	Email           string `json:"email"`
	ResetCode       string `json:"resetCode"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	corper, err := h.Recovery.CompleteReset(c.UserContext(), services.ResetInput{
		Email:           req.Email,
		ResetCode:       req.ResetCode,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		StateCode: corper.StateCode,
		Email:     corper.Email,
		Action:    services.AuditPasswordReset,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})
	return utils.Success(c, fiber.StatusOK, "Password reset successful", nil)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	corper := middleware.GetCurrentCorper(c)
	if corper == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "No token provided")
	}
	return utils.Success(c, fiber.StatusOK, "Profile retrieved", corperPayload(corper))
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	corper := middleware.GetCurrentCorper(c)
	if corper == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "No token provided")
	}

	h.Settings.clearSessionCookie(c)
	h.Audit.LogAsync(services.AuditEntry{
		StateCode: corper.StateCode,
		Action:    services.AuditLogout,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})
	return utils.Success(c, fiber.StatusOK, "Logged out successfully", nil)
}
