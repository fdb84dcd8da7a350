package handlers

import (
	"github.com/gloriousnetworker/nysc-backend/internal/middleware"
	"github.com/gloriousnetworker/nysc-backend/internal/services"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type TwoFactorHandler struct {
	TwoFactor *services.TwoFactorService
	Audit     *services.AuditService
	Settings  Settings
}

func NewTwoFactorHandler(twoFactor *services.TwoFactorService, audit *services.AuditService, settings Settings) *TwoFactorHandler {
	return &TwoFactorHandler{TwoFactor: twoFactor, Audit: audit, Settings: settings}
}

func (h *TwoFactorHandler) audit(c *fiber.Ctx, stateCode, action string, details map[string]interface{}) {
	h.Audit.LogAsync(services.AuditEntry{
		StateCode: stateCode,
		Action:    action,
		Details:   details,
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})
}

func (h *TwoFactorHandler) Setup(c *fiber.Ctx) error {
	corper := middleware.GetCurrentCorper(c)
	if corper == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "No token provided")
	}

	enrollment, err := h.TwoFactor.Enroll(c.UserContext(), corper.StateCode)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	h.audit(c, corper.StateCode, services.AuditMFAEnrollStarted, nil)
	return utils.Success(c, fiber.StatusOK, "Scan the QR code with your authenticator app, then confirm with a code", fiber.Map{
		"secret":      enrollment.Secret,
		"otpauthUrl":  enrollment.OTPAuthURL,
		"qrCode":      enrollment.QRCode,
		"backupCodes": enrollment.BackupCodes,
	})
}

type twoFactorCodeRequest struct {
	StateCode     string `json:"stateCode"`
	TwoFactorCode string `json:"twoFactorCode"`
}

func (h *TwoFactorHandler) VerifySetup(c *fiber.Ctx) error {
	var req twoFactorCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	stateCode := services.NormalizeStateCode(req.StateCode)
	if err := h.TwoFactor.ConfirmEnrollment(c.UserContext(), stateCode, req.TwoFactorCode); err != nil {
		return h.Settings.respondError(c, err)
	}

	h.audit(c, stateCode, services.AuditMFAEnabled, nil)
	return utils.Success(c, fiber.StatusOK, "2FA enabled successfully", fiber.Map{
		"twoFactorEnabled": true,
	})
}

type verifyTwoFactorRequest struct {
	StateCode     string `json:"stateCode"`
	TwoFactorCode string `json:"twoFactorCode"`
	TempToken     string `json:"tempToken"`
}

func (h *TwoFactorHandler) VerifyLogin(c *fiber.Ctx) error {
	var req verifyTwoFactorRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.TwoFactor.VerifyChallenge(c.UserContext(), req.StateCode, req.TwoFactorCode, req.TempToken)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	stateCode := result.Corper.StateCode
	method := "totp"
	if result.UsedBackupCode {
		method = "backup_code"
		h.audit(c, stateCode, services.AuditMFABackupCodeUsed, map[string]interface{}{
			"remaining": result.BackupCodesRemaining,
		})
	}
	h.audit(c, stateCode, services.AuditLoginTwoFactor, map[string]interface{}{
		"method": method,
	})

	h.Settings.setSessionCookie(c, result.Session)
	data := sessionPayload(result.Session)
	if result.UsedBackupCode {
		data["usedBackupCode"] = true
		data["backupCodesRemaining"] = result.BackupCodesRemaining
	}
	return utils.Success(c, fiber.StatusOK, "Login successful", data)
}

func (h *TwoFactorHandler) Disable(c *fiber.Ctx) error {
	corper := middleware.GetCurrentCorper(c)
	if corper == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "No token provided")
	}

	var req twoFactorCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.TwoFactor.Disable(c.UserContext(), corper.StateCode, req.TwoFactorCode); err != nil {
		return h.Settings.respondError(c, err)
	}

	h.audit(c, corper.StateCode, services.AuditMFADisabled, nil)
	return utils.Success(c, fiber.StatusOK, "2FA disabled successfully", fiber.Map{
		"twoFactorEnabled": false,
	})
}

func (h *TwoFactorHandler) RegenerateBackupCodes(c *fiber.Ctx) error {
	corper := middleware.GetCurrentCorper(c)
	if corper == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "No token provided")
	}

	codes, err := h.TwoFactor.RegenerateBackupCodes(c.UserContext(), corper.StateCode)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	h.audit(c, corper.StateCode, services.AuditMFABackupCodesRotated, nil)
	return utils.Success(c, fiber.StatusOK, "New backup codes generated. Store them somewhere safe.", fiber.Map{
		"backupCodes": codes,
	})
}

func (h *TwoFactorHandler) SendCode(c *fiber.Ctx) error {
	var req twoFactorCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	stateCode := services.NormalizeStateCode(req.StateCode)
	if err := h.TwoFactor.IssueEmailChallenge(c.UserContext(), stateCode); err != nil {
		return h.Settings.respondError(c, err)
	}

	h.audit(c, stateCode, services.AuditMFAEmailCodeSent, nil)
	return utils.Success(c, fiber.StatusOK, "2FA code sent to your email", nil)
}

func (h *TwoFactorHandler) VerifyEmailCode(c *fiber.Ctx) error {
	var req twoFactorCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "Invalid request body")
	}

	challenge, err := h.TwoFactor.RedeemEmailChallenge(c.UserContext(), req.StateCode, req.TwoFactorCode)
	if err != nil {
		return h.Settings.respondError(c, err)
	}

	h.audit(c, challenge.StateCode, services.AuditMFAEmailCodeVerified, nil)
	return utils.Success(c, fiber.StatusOK, "Email code verified. Complete login with your authenticator or a backup code", fiber.Map{
		"tempToken": challenge.TempToken,
		"stateCode": challenge.StateCode,
		"expiresAt": challenge.ExpiresAt,
	})
}
