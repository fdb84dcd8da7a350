package services

import "errors"

// Error kinds. Every error a service returns on purpose is an *Error whose
// Kind is one of these, so callers can pick a status with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateIdentity  = errors.New("identity already registered")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("state conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidCode        = errors.New("invalid code")
	ErrCodeExpired        = errors.New("code expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrDecryption         = errors.New("decryption failed")
)

// Error pairs an error kind with the message shown to the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ValidationError reports malformed or missing input.
func ValidationError(message string) *Error {
	return newError(ErrValidation, message)
}

var (
	ErrAllFieldsRequired = ValidationError("All fields are required")
	ErrPasswordMismatch  = ValidationError("Passwords do not match")

	ErrDuplicateEmail     = newError(ErrDuplicateIdentity, "Email already registered")
	ErrDuplicateStateCode = newError(ErrDuplicateIdentity, "State code already registered")

	ErrPendingNotFound      = newError(ErrNotFound, "No pending registration found")
	ErrRegistrationNotFound = newError(ErrNotFound, "No registration found")
	ErrCorperNotFound       = newError(ErrNotFound, "Corper not found")
	ErrEmailNotFound        = newError(ErrNotFound, "Email not found")
	ErrResetNotFound        = newError(ErrNotFound, "Invalid or expired reset code")
	ErrTwoFactorCodeMissing = newError(ErrNotFound, "No 2FA code requested. Please request a new code")

	ErrNotVerified             = newError(ErrConflict, "Please verify your email first")
	ErrTwoFactorAlreadyEnabled = newError(ErrConflict, "2FA is already enabled")
	ErrTwoFactorNotEnabled     = newError(ErrConflict, "2FA is not enabled")
	ErrTwoFactorNotInitiated   = newError(ErrConflict, "2FA setup not initiated")

	ErrInvalidPassword = newError(ErrInvalidCredentials, "Invalid password")

	ErrInvalidVerificationCode = newError(ErrInvalidCode, "Invalid verification code")
	ErrVerificationCodeExpired = newError(ErrCodeExpired, "Verification code expired")
	ErrInvalidResetCode        = newError(ErrInvalidCode, "Invalid reset code")
	ErrResetCodeExpired        = newError(ErrCodeExpired, "Reset code expired")
	ErrInvalidTwoFactorCode    = newError(ErrInvalidCode, "Invalid 2FA code")
	ErrTwoFactorCodeExpired    = newError(ErrCodeExpired, "2FA code expired")

	ErrInvalidTempToken = newError(ErrInvalidToken, "Invalid 2FA session. Please login again")
	ErrTempTokenExpired = newError(ErrExpiredToken, "2FA session expired. Please login again")

	ErrVerificationDelivery = newError(ErrDeliveryFailed, "Failed to send verification email")
	ErrResendDelivery       = newError(ErrDeliveryFailed, "Failed to send new code")
	ErrContinueDelivery     = newError(ErrDeliveryFailed, "Failed to send verification code")
	ErrResetDelivery        = newError(ErrDeliveryFailed, "Failed to send reset code")
	ErrTwoFactorDelivery    = newError(ErrDeliveryFailed, "Failed to send 2FA code")

	ErrSecretUnreadable = newError(ErrDecryption, "Unable to read 2FA secret")
)
