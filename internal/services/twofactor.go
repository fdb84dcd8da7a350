package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	qrCodeSize = 200
)

// Enrollment is returned once, when 2FA setup starts. Only the encrypted
// secret and hashed backup codes are stored.
type Enrollment struct {
	Secret      string
	OTPAuthURL  string
	QRCode      string
	BackupCodes []string
}

type ChallengeResult struct {
	*Session
	UsedBackupCode       bool
	BackupCodesRemaining int
}

type secondFactor struct {
	usedBackupCode bool
	remaining      int
}

type TwoFactorService struct {
	*core
}

func NewTwoFactorService(deps Dependencies) *TwoFactorService {
	return &TwoFactorService{core: newCore(deps)}
}

// Enroll generates a TOTP secret and a fresh backup-code set. Calling it
// again before confirmation replaces both.
func (s *TwoFactorService) Enroll(ctx context.Context, stateCode string) (*Enrollment, error) {
	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return nil, err
	}
	if corper.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.TOTPIssuer,
		AccountName: corper.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	qrCode, err := qrDataURL(key)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}

	encryptedSecret, err := s.Vault.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("encrypt totp secret: %w", err)
	}

	codes, hashedCodes, err := utils.GenerateBackupCodes(utils.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	encodedCodes, err := models.EncodeBackupCodes(hashedCodes)
	if err != nil {
		return nil, err
	}

	if err := s.Store.UpdateCorper(ctx, corper.StateCode, map[string]interface{}{
		"two_factor_secret":     encryptedSecret,
		"backup_codes":          encodedCodes,
		"two_factor_enabled":    false,
		"two_factor_enabled_at": nil,
	}); err != nil {
		return nil, err
	}

	logger.InfoWithUser(corper.StateCode, "mfa_enroll_started", nil)

	return &Enrollment{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		QRCode:      qrCode,
		BackupCodes: codes,
	}, nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ConfirmEnrollment turns 2FA on once the authenticator produces a valid
// code. A wrong code leaves enrollment open.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, stateCode, code string) error {
	if anyBlank(stateCode, code) {
		return ValidationError("State code and 2FA code required")
	}

	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return err
	}
	if corper.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if corper.TwoFactorSecret == "" {
		return ErrTwoFactorNotInitiated
	}

	secret, legacy, err := s.Vault.DecryptWithFormat(corper.TwoFactorSecret)
	if err != nil {
		logger.ErrorWithUser(corper.StateCode, "mfa_secret_decrypt_failed", err, nil)
		return ErrSecretUnreadable
	}
	if !s.validateTOTP(code, secret) {
		return ErrInvalidTwoFactorCode
	}

	updates := map[string]interface{}{
		"two_factor_enabled":    true,
		"two_factor_enabled_at": s.now(),
	}
	if legacy {
		if reencrypted, err := s.Vault.Encrypt(secret); err == nil {
			updates["two_factor_secret"] = reencrypted
		}
	}
	if err := s.Store.UpdateCorper(ctx, corper.StateCode, updates); err != nil {
		return err
	}

	logger.InfoWithUser(corper.StateCode, "mfa_totp_enabled", nil)
	return nil
}

// IssueEmailChallenge emails a one-time code that can stand in for the
// authenticator app. The code is dropped again if it cannot be sent.
func (s *TwoFactorService) IssueEmailChallenge(ctx context.Context, stateCode string) error {
	if anyBlank(stateCode) {
		return ValidationError("State code is required")
	}

	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return err
	}
	if !corper.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	code, err := utils.GenerateNumericCode()
	if err != nil {
		return fmt.Errorf("generate 2fa code: %w", err)
	}
	if err := s.Challenges.SaveTwoFactorCode(ctx, &models.TwoFactorCode{
		StateCode: corper.StateCode,
		Code:      code,
		ExpiresAt: s.now().Add(TwoFactorCodeTTL),
		CreatedAt: s.now(),
	}); err != nil {
		return err
	}

	if err := s.Mailer.SendTwoFactorCode(ctx, corper.Email, corper.FullName(), code); err != nil {
		logger.ErrorWithUser(corper.StateCode, "two_factor_email_failed", err, nil)
		if delErr := s.Challenges.DeleteTwoFactorCode(ctx, corper.StateCode); delErr != nil {
			logger.ErrorWithUser(corper.StateCode, "two_factor_code_rollback_failed", delErr, nil)
		}
		return ErrTwoFactorDelivery
	}

	logger.InfoWithUser(corper.StateCode, "two_factor_code_sent", nil)
	return nil
}

// RedeemEmailChallenge trades a valid emailed code for a login challenge.
// The caller still has to finish with VerifyChallenge.
func (s *TwoFactorService) RedeemEmailChallenge(ctx context.Context, stateCode, code string) (*Challenge, error) {
	if anyBlank(stateCode, code) {
		return nil, ValidationError("State code and 2FA code required")
	}

	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return nil, err
	}
	if !corper.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	stored, err := s.Challenges.GetTwoFactorCode(ctx, corper.StateCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTwoFactorCodeMissing
	}
	if err != nil {
		return nil, err
	}

	if stored.Expired(s.now()) {
		_ = s.Challenges.DeleteTwoFactorCode(ctx, corper.StateCode)
		return nil, ErrTwoFactorCodeExpired
	}
	if !utils.CodesEqual(strings.TrimSpace(code), stored.Code) {
		return nil, ErrInvalidTwoFactorCode
	}

	consumed, err := s.Challenges.ConsumeTwoFactorCode(ctx, corper.StateCode, stored.Code)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrInvalidTwoFactorCode
	}

	challenge, err := s.startChallenge(ctx, corper.StateCode, models.ChallengeKindEmail)
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(corper.StateCode, "two_factor_email_verified", nil)
	return challenge, nil
}

// VerifyChallenge completes a 2FA login with a TOTP code or, failing that,
// a backup code. A wrong code leaves the challenge open until it expires.
func (s *TwoFactorService) VerifyChallenge(ctx context.Context, stateCode, code, tempToken string) (*ChallengeResult, error) {
	if anyBlank(stateCode, code, tempToken) {
		return nil, ValidationError("State code, 2FA code and temp token required")
	}
	stateCode = NormalizeStateCode(stateCode)

	claims, err := s.Tokens.Verify(tempToken)
	switch {
	case errors.Is(err, utils.ErrExpiredToken):
		return nil, ErrTempTokenExpired
	case err != nil:
		return nil, ErrInvalidTempToken
	}
	if claims.Role != utils.RoleTemp || claims.StateCode != stateCode {
		return nil, ErrInvalidTempToken
	}

	challenge, err := s.Challenges.GetAuthChallenge(ctx, stateCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidTempToken
	}
	if err != nil {
		return nil, err
	}
	if !utils.CodesEqual(tempToken, challenge.TempToken) {
		return nil, ErrInvalidTempToken
	}
	if challenge.Expired(s.now()) {
		_ = s.Challenges.DeleteAuthChallenge(ctx, stateCode)
		return nil, ErrTempTokenExpired
	}

	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return nil, err
	}
	if !corper.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	match, err := s.matchSecondFactor(corper, code)
	if err != nil {
		logger.WarnWithUser(corper.StateCode, "login_2fa_failed", nil)
		return nil, err
	}

	// Only the request that claims the challenge spends a backup code.
	consumed, err := s.Challenges.ConsumeAuthChallenge(ctx, stateCode, tempToken)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrInvalidTempToken
	}

	factor, err := s.applySecondFactor(ctx, corper, code, match)
	if err != nil {
		logger.WarnWithUser(corper.StateCode, "login_2fa_failed", nil)
		return nil, err
	}

	session, err := s.issueSession(corper)
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(corper.StateCode, "login_2fa_success", map[string]interface{}{
		"kind":             string(challenge.Kind),
		"used_backup_code": factor.usedBackupCode,
	})

	return &ChallengeResult{
		Session:              session,
		UsedBackupCode:       factor.usedBackupCode,
		BackupCodesRemaining: factor.remaining,
	}, nil
}

// Disable turns 2FA off after a valid TOTP or backup code. The flag, the
// secret and the backup codes are cleared in one update.
func (s *TwoFactorService) Disable(ctx context.Context, stateCode, code string) error {
	if anyBlank(code) {
		return ValidationError("2FA code is required")
	}

	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return err
	}
	if !corper.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if _, err := s.verifySecondFactor(ctx, corper, code); err != nil {
		return err
	}

	if err := s.Store.UpdateCorper(ctx, corper.StateCode, map[string]interface{}{
		"two_factor_enabled":    false,
		"two_factor_secret":     "",
		"backup_codes":          "",
		"two_factor_enabled_at": nil,
	}); err != nil {
		return err
	}

	if err := s.Challenges.DeleteAuthChallenge(ctx, corper.StateCode); err != nil {
		logger.ErrorWithUser(corper.StateCode, "auth_challenge_cleanup_failed", err, nil)
	}
	if err := s.Challenges.DeleteTwoFactorCode(ctx, corper.StateCode); err != nil {
		logger.ErrorWithUser(corper.StateCode, "two_factor_code_cleanup_failed", err, nil)
	}

	logger.InfoWithUser(corper.StateCode, "mfa_totp_disabled", nil)
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, stateCode string) ([]string, error) {
	corper, err := s.findCorperByStateCode(ctx, stateCode)
	if err != nil {
		return nil, err
	}
	if !corper.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	codes, hashedCodes, err := utils.GenerateBackupCodes(utils.BackupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	encoded, err := models.EncodeBackupCodes(hashedCodes)
	if err != nil {
		return nil, err
	}
	if err := s.Store.UpdateCorper(ctx, corper.StateCode, map[string]interface{}{
		"backup_codes": encoded,
	}); err != nil {
		return nil, err
	}

	logger.InfoWithUser(corper.StateCode, "mfa_backup_codes_regenerated", nil)
	return codes, nil
}

// verifySecondFactor tries the TOTP code first and a backup code second.
// A matched backup code is removed from the stored set.
func (s *TwoFactorService) verifySecondFactor(ctx context.Context, corper *models.Corper, code string) (secondFactor, error) {
	match, err := s.matchSecondFactor(corper, code)
	if err != nil {
		return secondFactor{}, err
	}
	return s.applySecondFactor(ctx, corper, code, match)
}

type factorMatch struct {
	backupCode   bool
	secret       string
	legacySecret bool
}

// matchSecondFactor checks code against the secret and the stored backup
// codes without changing anything.
func (s *TwoFactorService) matchSecondFactor(corper *models.Corper, code string) (factorMatch, error) {
	code = strings.TrimSpace(code)

	secret, legacy, decryptErr := s.Vault.DecryptWithFormat(corper.TwoFactorSecret)
	if decryptErr != nil {
		logger.ErrorWithUser(corper.StateCode, "mfa_secret_decrypt_failed", decryptErr, nil)
	} else if s.validateTOTP(code, secret) {
		return factorMatch{secret: secret, legacySecret: legacy}, nil
	}

	if utils.MatchBackupCode(code, corper.BackupCodeHashes()) >= 0 {
		return factorMatch{backupCode: true}, nil
	}

	if decryptErr != nil {
		return factorMatch{}, ErrSecretUnreadable
	}
	return factorMatch{}, ErrInvalidTwoFactorCode
}

// applySecondFactor spends a matched backup code or migrates a legacy
// secret after a TOTP match.
func (s *TwoFactorService) applySecondFactor(ctx context.Context, corper *models.Corper, code string, match factorMatch) (secondFactor, error) {
	if !match.backupCode {
		if match.legacySecret {
			s.migrateSecret(ctx, corper.StateCode, match.secret)
		}
		return secondFactor{remaining: len(corper.BackupCodeHashes())}, nil
	}

	used, remaining, err := s.consumeBackupCode(ctx, corper, strings.TrimSpace(code))
	if err != nil {
		return secondFactor{}, err
	}
	if !used {
		return secondFactor{}, ErrInvalidTwoFactorCode
	}
	logger.InfoWithUser(corper.StateCode, "mfa_backup_code_used", map[string]interface{}{
		"remaining": remaining,
	})
	return secondFactor{usedBackupCode: true, remaining: remaining}, nil
}

func (s *TwoFactorService) validateTOTP(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// consumeBackupCode removes the matching hash with a compare-and-swap on the
// stored set. A lost swap rereads the set and retries for as long as the
// code is still in it.
func (s *TwoFactorService) consumeBackupCode(ctx context.Context, corper *models.Corper, code string) (bool, int, error) {
	current := corper
	for {
		if err := ctx.Err(); err != nil {
			return false, 0, err
		}
		hashes := current.BackupCodeHashes()
		idx := utils.MatchBackupCode(code, hashes)
		if idx < 0 {
			return false, len(hashes), nil
		}

		remaining := make([]string, 0, len(hashes)-1)
		remaining = append(remaining, hashes[:idx]...)
		remaining = append(remaining, hashes[idx+1:]...)
		encoded, err := models.EncodeBackupCodes(remaining)
		if err != nil {
			return false, 0, err
		}

		swapped, err := s.Store.SwapBackupCodes(ctx, current.StateCode, current.BackupCodes, encoded)
		if err != nil {
			return false, 0, err
		}
		if swapped {
			return true, len(remaining), nil
		}

		current, err = s.Store.FindCorperByStateCode(ctx, current.StateCode)
		if err != nil {
			return false, 0, err
		}
		if !current.TwoFactorEnabled {
			return false, 0, nil
		}
	}
}

// migrateSecret rewrites a legacy-encoded secret in the current format.
// Failure only means the migration is retried on the next login.
func (s *TwoFactorService) migrateSecret(ctx context.Context, stateCode, secret string) {
	encrypted, err := s.Vault.Encrypt(secret)
	if err == nil {
		err = s.Store.UpdateCorper(ctx, stateCode, map[string]interface{}{
			"two_factor_secret": encrypted,
		})
	}
	if err != nil {
		logger.ErrorWithUser(stateCode, "mfa_secret_migration_failed", err, nil)
		return
	}
	logger.InfoWithUser(stateCode, "mfa_secret_migrated", nil)
}
