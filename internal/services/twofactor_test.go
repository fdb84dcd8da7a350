package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/mailer"
	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/pquerna/otp/totp"
)

const testStateCode = "LA/24A/0001"

// unusedCode returns a 6-digit code that is neither a valid TOTP code for
// secret right now nor one of the given backup codes.
func (e *testEnv) unusedCode(t *testing.T, secret string, backupCodes []string) string {
	t.Helper()
	taken := map[string]bool{}
	for _, c := range backupCodes {
		taken[c] = true
	}
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, _ := totp.GenerateCode(secret, e.clock.Now().Add(offset))
		taken[code] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333", "444444"} {
		if !taken[candidate] {
			return candidate
		}
	}
	t.Fatal("could not find an unused code")
	return ""
}

func (e *testEnv) loginChallenge(t *testing.T) *Challenge {
	t.Helper()
	result, err := e.login.Login(context.Background(), testStateCode, testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !result.RequiresTwoFactor() {
		t.Fatal("expected a 2FA challenge")
	}
	return result.Challenge
}

func TestEnrollReturnsSecretsOnceAndStoresThemProtected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)

	enrollment, err := env.twoFactor.Enroll(ctx, testStateCode)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if len(enrollment.BackupCodes) != utils.BackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", utils.BackupCodeCount, len(enrollment.BackupCodes))
	}
	if !strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,") {
		t.Fatalf("unexpected qr code prefix %q", enrollment.QRCode[:30])
	}
	if !strings.Contains(enrollment.OTPAuthURL, "issuer=NYSC") {
		t.Fatalf("expected issuer in provisioning url, got %q", enrollment.OTPAuthURL)
	}

	corper := env.corper(t, testStateCode)
	if corper.TwoFactorEnabled {
		t.Fatal("expected 2FA to stay off until confirmed")
	}
	if corper.TwoFactorSecret == enrollment.Secret || !strings.HasPrefix(corper.TwoFactorSecret, "v1:") {
		t.Fatal("expected secret to be stored encrypted")
	}
	decrypted, err := env.deps.Vault.Decrypt(corper.TwoFactorSecret)
	if err != nil || decrypted != enrollment.Secret {
		t.Fatalf("expected stored secret to decrypt to the issued one, err=%v", err)
	}
	for _, hashed := range corper.BackupCodeHashes() {
		for _, plain := range enrollment.BackupCodes {
			if hashed == plain {
				t.Fatal("expected backup codes to be stored hashed")
			}
		}
	}
}

func TestConfirmEnrollment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)

	if err := env.twoFactor.ConfirmEnrollment(ctx, testStateCode, "123456"); !errors.Is(err, ErrTwoFactorNotInitiated) {
		t.Fatalf("expected not initiated, got %v", err)
	}

	enrollment, err := env.twoFactor.Enroll(ctx, testStateCode)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	wrong := env.unusedCode(t, enrollment.Secret, nil)
	if err := env.twoFactor.ConfirmEnrollment(ctx, testStateCode, wrong); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if env.corper(t, testStateCode).TwoFactorEnabled {
		t.Fatal("expected enrollment to stay open after a wrong code")
	}

	previousStep, _ := totp.GenerateCode(enrollment.Secret, env.clock.Now().Add(-30*time.Second))
	if err := env.twoFactor.ConfirmEnrollment(ctx, "la/24a/0001", previousStep); err != nil {
		t.Fatalf("expected code from the previous step to be accepted, got %v", err)
	}

	corper := env.corper(t, testStateCode)
	if !corper.TwoFactorEnabled || corper.TwoFactorEnabledAt == nil {
		t.Fatalf("expected 2FA enabled, got %+v", corper)
	}

	if _, err := env.twoFactor.Enroll(ctx, testStateCode); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected already enabled, got %v", err)
	}
}

func TestVerifyChallengeWithTOTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	secret, backupCodes := env.enableTwoFactor(t, testStateCode)

	challenge := env.loginChallenge(t)

	wrong := env.unusedCode(t, secret, backupCodes)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, wrong, challenge.TempToken); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := env.deps.Challenges.GetAuthChallenge(ctx, testStateCode); err != nil {
		t.Fatalf("expected challenge to stay open after a wrong code, got %v", err)
	}

	result, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, env.totpCode(t, secret), challenge.TempToken)
	if err != nil {
		t.Fatalf("VerifyChallenge() error = %v", err)
	}
	if result.UsedBackupCode || result.BackupCodesRemaining != utils.BackupCodeCount {
		t.Fatalf("unexpected result %+v", result)
	}
	claims, err := env.deps.Tokens.Verify(result.Token)
	if err != nil || claims.Role != utils.RoleCorper {
		t.Fatalf("expected session token, got %+v (%v)", claims, err)
	}

	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, env.totpCode(t, secret), challenge.TempToken); !errors.Is(err, ErrInvalidTempToken) {
		t.Fatalf("expected temp token to be single use, got %v", err)
	}
}

func TestVerifyChallengeWithBackupCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	_, backupCodes := env.enableTwoFactor(t, testStateCode)

	challenge := env.loginChallenge(t)
	result, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, backupCodes[3], challenge.TempToken)
	if err != nil {
		t.Fatalf("VerifyChallenge() with backup code error = %v", err)
	}
	if !result.UsedBackupCode || result.BackupCodesRemaining != utils.BackupCodeCount-1 {
		t.Fatalf("unexpected result %+v", result)
	}

	hashes := env.corper(t, testStateCode).BackupCodeHashes()
	if len(hashes) != utils.BackupCodeCount-1 {
		t.Fatalf("expected one code removed, got %d left", len(hashes))
	}
	if utils.MatchBackupCode(backupCodes[3], hashes) != -1 {
		t.Fatal("expected used code to be gone")
	}
	for i, code := range backupCodes {
		if i == 3 {
			continue
		}
		if utils.MatchBackupCode(code, hashes) == -1 {
			t.Fatalf("expected backup code %d to remain usable", i)
		}
	}

	challenge = env.loginChallenge(t)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, backupCodes[3], challenge.TempToken); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected reused backup code to fail, got %v", err)
	}
}

func TestVerifyChallengeRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	env.registerCorper(t, "bola@example.com", "LA/24A/0002")
	secret, _ := env.enableTwoFactor(t, testStateCode)
	env.enableTwoFactor(t, "LA/24A/0002")

	challenge := env.loginChallenge(t)
	code := env.totpCode(t, secret)

	session, _, _ := env.deps.Tokens.Issue(testStateCode, utils.RoleCorper, 0)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, code, session); !errors.Is(err, ErrInvalidTempToken) {
		t.Fatalf("expected session token to be refused, got %v", err)
	}

	if _, err := env.twoFactor.VerifyChallenge(ctx, "LA/24A/0002", code, challenge.TempToken); !errors.Is(err, ErrInvalidTempToken) {
		t.Fatalf("expected token for another corper to be refused, got %v", err)
	}

	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, code, "garbage"); !errors.Is(err, ErrInvalidTempToken) {
		t.Fatalf("expected garbage token to be refused, got %v", err)
	}

	stale := challenge.TempToken
	env.loginChallenge(t)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, code, stale); !errors.Is(err, ErrInvalidTempToken) {
		t.Fatalf("expected replaced challenge to be refused, got %v", err)
	}

	expired, _, _ := env.deps.Tokens.Issue(testStateCode, utils.RoleTemp, -time.Minute)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, code, expired); !errors.Is(err, ErrTempTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestVerifyChallengeExpiresWithStoredExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	secret, _ := env.enableTwoFactor(t, testStateCode)

	challenge := env.loginChallenge(t)
	if err := env.db.Model(&models.AuthChallenge{}).
		Where("state_code = ?", testStateCode).
		Update("expires_at", env.clock.Now().Add(-time.Second)).Error; err != nil {
		t.Fatalf("failed to backdate challenge: %v", err)
	}

	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, env.totpCode(t, secret), challenge.TempToken); !errors.Is(err, ErrTempTokenExpired) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
	if n := countRows(t, env.db, &models.AuthChallenge{}); n != 0 {
		t.Fatalf("expected expired challenge to be deleted, got %d", n)
	}
}

func TestVerifyChallengeExpiresWithClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	secret, _ := env.enableTwoFactor(t, testStateCode)

	challenge := env.loginChallenge(t)
	want := env.clock.Now().Add(env.deps.Tokens.TempTTL())
	if !challenge.ExpiresAt.Equal(want) {
		t.Fatalf("expected challenge to expire at %s, got %s", want, challenge.ExpiresAt)
	}

	env.clock.Advance(env.deps.Tokens.TempTTL() + time.Minute)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, env.totpCode(t, secret), challenge.TempToken); !errors.Is(err, ErrTempTokenExpired) {
		t.Fatalf("expected expired temp token, got %v", err)
	}
}

func TestEmailChallengeBridgesIntoStepUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	secret, _ := env.enableTwoFactor(t, testStateCode)

	if err := env.twoFactor.IssueEmailChallenge(ctx, "la/24a/0001"); err != nil {
		t.Fatalf("IssueEmailChallenge() error = %v", err)
	}
	delivery, ok := env.mail.Last(mailer.KindTwoFactorCode, "ada@example.com")
	if !ok {
		t.Fatal("expected 2FA email")
	}

	challenge, err := env.twoFactor.RedeemEmailChallenge(ctx, testStateCode, delivery.Code)
	if err != nil {
		t.Fatalf("RedeemEmailChallenge() error = %v", err)
	}
	if challenge.Kind != models.ChallengeKindEmail || challenge.TempToken == "" {
		t.Fatalf("unexpected challenge %+v", challenge)
	}

	if _, err := env.twoFactor.RedeemEmailChallenge(ctx, testStateCode, delivery.Code); !errors.Is(err, ErrTwoFactorCodeMissing) {
		t.Fatalf("expected emailed code to be single use, got %v", err)
	}

	result, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, env.totpCode(t, secret), challenge.TempToken)
	if err != nil {
		t.Fatalf("VerifyChallenge() error = %v", err)
	}
	if result.Token == "" {
		t.Fatal("expected a session token")
	}
}

func TestEmailChallengeFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)

	if err := env.twoFactor.IssueEmailChallenge(ctx, testStateCode); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}
	if err := env.twoFactor.IssueEmailChallenge(ctx, "LA/24A/9999"); !errors.Is(err, ErrCorperNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	env.enableTwoFactor(t, testStateCode)

	env.mail.Fail(mailer.KindTwoFactorCode, true)
	if err := env.twoFactor.IssueEmailChallenge(ctx, testStateCode); !errors.Is(err, ErrTwoFactorDelivery) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if n := countRows(t, env.db, &models.TwoFactorCode{}); n != 0 {
		t.Fatalf("expected undelivered code to be deleted, got %d", n)
	}
	env.mail.Fail(mailer.KindTwoFactorCode, false)

	if err := env.twoFactor.IssueEmailChallenge(ctx, testStateCode); err != nil {
		t.Fatalf("IssueEmailChallenge() error = %v", err)
	}
	delivery, _ := env.mail.Last(mailer.KindTwoFactorCode, "ada@example.com")
	wrong := "000000"
	if delivery.Code == wrong {
		wrong = "111111"
	}
	if _, err := env.twoFactor.RedeemEmailChallenge(ctx, testStateCode, wrong); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}

	env.clock.Advance(TwoFactorCodeTTL + time.Second)
	if _, err := env.twoFactor.RedeemEmailChallenge(ctx, testStateCode, delivery.Code); !errors.Is(err, ErrTwoFactorCodeExpired) {
		t.Fatalf("expected expired code, got %v", err)
	}
	if n := countRows(t, env.db, &models.TwoFactorCode{}); n != 0 {
		t.Fatalf("expected expired code to be deleted, got %d", n)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	secret, backupCodes := env.enableTwoFactor(t, testStateCode)

	wrong := env.unusedCode(t, secret, backupCodes)
	if err := env.twoFactor.Disable(ctx, testStateCode, wrong); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if !env.corper(t, testStateCode).TwoFactorEnabled {
		t.Fatal("expected 2FA to remain enabled")
	}

	if err := env.twoFactor.Disable(ctx, testStateCode, backupCodes[0]); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	corper := env.corper(t, testStateCode)
	if corper.TwoFactorEnabled || corper.TwoFactorSecret != "" || corper.BackupCodes != "" || corper.TwoFactorEnabledAt != nil {
		t.Fatalf("expected 2FA state to be cleared, got %+v", corper)
	}

	if err := env.twoFactor.Disable(ctx, testStateCode, backupCodes[1]); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}

	result, err := env.login.Login(ctx, testStateCode, testPassword)
	if err != nil || result.Session == nil {
		t.Fatalf("expected direct login after disable, got %+v (%v)", result, err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)

	if _, err := env.twoFactor.RegenerateBackupCodes(ctx, testStateCode); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}

	_, oldCodes := env.enableTwoFactor(t, testStateCode)
	newCodes, err := env.twoFactor.RegenerateBackupCodes(ctx, testStateCode)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes() error = %v", err)
	}
	if len(newCodes) != utils.BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", utils.BackupCodeCount, len(newCodes))
	}

	hashes := env.corper(t, testStateCode).BackupCodeHashes()
	fresh := map[string]bool{}
	for _, c := range newCodes {
		fresh[c] = true
	}
	for _, c := range oldCodes {
		if !fresh[c] && utils.MatchBackupCode(c, hashes) != -1 {
			t.Fatalf("expected old code %s to be invalidated", c)
		}
	}
	if utils.MatchBackupCode(newCodes[0], hashes) == -1 {
		t.Fatal("expected new codes to be usable")
	}
}

func TestLegacySecretIsMigratedOnUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	secret, _ := env.enableTwoFactor(t, testStateCode)

	legacy := encryptLegacyForTest(t, "test-encryption-key", secret)
	if err := env.deps.Store.UpdateCorper(ctx, testStateCode, map[string]interface{}{"two_factor_secret": legacy}); err != nil {
		t.Fatalf("UpdateCorper() error = %v", err)
	}

	challenge := env.loginChallenge(t)
	if _, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, env.totpCode(t, secret), challenge.TempToken); err != nil {
		t.Fatalf("VerifyChallenge() with legacy secret error = %v", err)
	}

	stored := env.corper(t, testStateCode).TwoFactorSecret
	if !strings.HasPrefix(stored, "v1:") {
		t.Fatalf("expected secret to be re-encrypted, got %q", stored)
	}
	if decrypted, _ := env.deps.Vault.Decrypt(stored); decrypted != secret {
		t.Fatal("expected migrated secret to decrypt to the original")
	}
}

func TestConcurrentBackupCodeUseSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	_, backupCodes := env.enableTwoFactor(t, testStateCode)

	corper := env.corper(t, testStateCode)
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		go func() {
			used, _, err := env.twoFactor.consumeBackupCode(ctx, corper, backupCodes[0])
			results <- used && err == nil
		}()
	}

	used := 0
	for i := 0; i < 3; i++ {
		if <-results {
			used++
		}
	}
	if used != 1 {
		t.Fatalf("expected exactly one successful use, got %d", used)
	}
	if n := len(env.corper(t, testStateCode).BackupCodeHashes()); n != utils.BackupCodeCount-1 {
		t.Fatalf("expected %d codes left, got %d", utils.BackupCodeCount-1, n)
	}
}

func TestConcurrentDistinctBackupCodesAllSucceed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	_, backupCodes := env.enableTwoFactor(t, testStateCode)

	corper := env.corper(t, testStateCode)
	var wg sync.WaitGroup
	errs := make(chan error, len(backupCodes))
	for _, code := range backupCodes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			used, _, err := env.twoFactor.consumeBackupCode(ctx, corper, code)
			if err == nil && !used {
				err = errors.New("code " + code + " was not consumed")
			}
			errs <- err
		}(code)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("consumeBackupCode() error = %v", err)
		}
	}
	if n := len(env.corper(t, testStateCode).BackupCodeHashes()); n != 0 {
		t.Fatalf("expected every code spent, got %d left", n)
	}
}

func TestConcurrentVerifyChallengeKeepsLosingBackupCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerCorper(t, "ada@example.com", testStateCode)
	_, backupCodes := env.enableTwoFactor(t, testStateCode)
	challenge := env.loginChallenge(t)

	const workers = 4
	type outcome struct {
		code   string
		result *ChallengeResult
		err    error
	}
	var wg sync.WaitGroup
	outcomes := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			result, err := env.twoFactor.VerifyChallenge(ctx, testStateCode, code, challenge.TempToken)
			outcomes <- outcome{code: code, result: result, err: err}
		}(backupCodes[i])
	}
	wg.Wait()
	close(outcomes)

	var winner string
	var losers []string
	for o := range outcomes {
		switch {
		case o.err == nil:
			if winner != "" {
				t.Fatal("expected a single session for one temp token")
			}
			winner = o.code
		case errors.Is(o.err, ErrInvalidTempToken):
			losers = append(losers, o.code)
		default:
			t.Fatalf("unexpected VerifyChallenge() error = %v", o.err)
		}
	}
	if winner == "" || len(losers) != workers-1 {
		t.Fatalf("expected one winner and %d losers, got %q and %d", workers-1, winner, len(losers))
	}

	hashes := env.corper(t, testStateCode).BackupCodeHashes()
	if len(hashes) != utils.BackupCodeCount-1 {
		t.Fatalf("expected only the winning code spent, got %d left", len(hashes))
	}
	if utils.MatchBackupCode(winner, hashes) != -1 {
		t.Fatal("expected winning code to be gone")
	}
	for _, code := range losers {
		if utils.MatchBackupCode(code, hashes) == -1 {
			t.Fatalf("expected losing code %s to remain usable", code)
		}
	}
}
