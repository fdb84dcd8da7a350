package services

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gloriousnetworker/nysc-backend/internal/mailer"
	"github.com/gloriousnetworker/nysc-backend/internal/mailer/mailertest"
	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testPassword = "secret123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db           *gorm.DB
	deps         Dependencies
	mail         *mailertest.Recorder
	clock        *testClock
	registration *RegistrationService
	login        *LoginService
	twoFactor    *TwoFactorService
	recovery     *RecoveryService
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.InitWithWriter(io.Discard)

	db := setupTestDB(t)

	vault, err := utils.NewVault("test-encryption-key")
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	clock := &testClock{now: time.Now().UTC()}
	tokens, err := utils.NewTokenIssuer("test-jwt-secret", 7*24*time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	tokens = tokens.WithClock(clock.Now)

	recorder := mailertest.New()
	deps := Dependencies{
		Store:      store.New(db),
		Challenges: store.NewGormChallengeStore(db),
		Mailer:     recorder,
		Vault:      vault,
		Tokens:     tokens,
		TOTPIssuer: "NYSC Test",
		Now:        clock.Now,
	}

	env := &testEnv{
		db:           db,
		deps:         deps,
		mail:         recorder,
		clock:        clock,
		registration: NewRegistrationService(deps),
		login:        NewLoginService(deps),
		twoFactor:    NewTwoFactorService(deps),
		recovery:     NewRecoveryService(deps),
	}
	t.Cleanup(env.registration.Wait)
	return env
}

func validSignup(email, stateCode string) SignupInput {
	return SignupInput{
		Profile: models.Profile{
			FirstName:       "Ada",
			LastName:        "Obi",
			Phone:           "08012345678",
			ServingState:    "Lagos",
			LocalGovernment: "Ikeja",
			PPA:             "Ikeja Grammar School",
			CDSGroup:        "Health",
		},
		Email:           email,
		StateCode:       stateCode,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	}
}

// registerCorper runs signup and confirmation and returns the active account.
func (e *testEnv) registerCorper(t *testing.T, email, stateCode string) *models.Corper {
	t.Helper()
	ctx := context.Background()

	pending, err := e.registration.Begin(ctx, validSignup(email, stateCode))
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	delivery, ok := e.mail.Last(mailer.KindVerification, pending.Email)
	if !ok {
		t.Fatalf("expected verification email for %s", pending.Email)
	}
	session, err := e.registration.Confirm(ctx, pending.Email, delivery.Code)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	return session.Corper
}

// enableTwoFactor enrolls and confirms 2FA and returns the TOTP secret and
// plaintext backup codes.
func (e *testEnv) enableTwoFactor(t *testing.T, stateCode string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := e.twoFactor.Enroll(ctx, stateCode)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if err := e.twoFactor.ConfirmEnrollment(ctx, stateCode, e.totpCode(t, enrollment.Secret)); err != nil {
		t.Fatalf("ConfirmEnrollment() error = %v", err)
	}
	return enrollment.Secret, enrollment.BackupCodes
}

func (e *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, e.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	return code
}

func (e *testEnv) corper(t *testing.T, stateCode string) *models.Corper {
	t.Helper()
	corper, err := e.deps.Store.FindCorperByStateCode(context.Background(), stateCode)
	if err != nil {
		t.Fatalf("FindCorperByStateCode() error = %v", err)
	}
	return corper
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

// encryptLegacyForTest produces a secret in the pre-versioning format:
// hex AES-256-CBC with key and IV from EVP_BytesToKey(MD5) over the secret.
func encryptLegacyForTest(t *testing.T, secret, plaintext string) string {
	t.Helper()

	var derived, prev []byte
	for len(derived) < 48 {
		h := md5.New()
		h.Write(prev)
		h.Write([]byte(secret))
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}

	block, err := aes.NewCipher(derived[:32])
	if err != nil {
		t.Fatalf("failed to build cipher: %v", err)
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, derived[32:48]).CryptBlocks(out, padded)
	return hex.EncodeToString(out)
}
