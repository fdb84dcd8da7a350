package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gloriousnetworker/nysc-backend/internal/config"
	"github.com/gloriousnetworker/nysc-backend/internal/mailer"
	"github.com/gloriousnetworker/nysc-backend/internal/mailer/mailertest"
	"github.com/gloriousnetworker/nysc-backend/internal/middleware"
	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/gloriousnetworker/nysc-backend/internal/services"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testPassword = "secret123"

type testEnv struct {
	app   *fiber.App
	db    *gorm.DB
	mail  *mailertest.Recorder
	audit *services.AuditService
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupTestEnvWith(t, Settings{SessionTTL: 24 * time.Hour}, config.RateLimitConfig{})
}

func setupTestEnvWith(t *testing.T, settings Settings, limits config.RateLimitConfig) *testEnv {
	t.Helper()
	logger.InitWithWriter(io.Discard)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	vault, err := utils.NewVault("handler-test-key")
	if err != nil {
		t.Fatalf("NewVault() error = %v", err)
	}
	tokens, err := utils.NewTokenIssuer("handler-test-secret", settings.SessionTTL, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	recorder := mailertest.New()
	s := store.New(db)
	deps := services.Dependencies{
		Store:      s,
		Challenges: store.NewGormChallengeStore(db),
		Mailer:     recorder,
		Vault:      vault,
		Tokens:     tokens,
		TOTPIssuer: "NYSC Test",
	}

	registration := services.NewRegistrationService(deps)
	auditService := services.NewAuditService(db)

	// Cleanups run last-in first-out: drain background work before closing
	// the database.
	t.Cleanup(func() { _ = sqlDB.Close() })
	t.Cleanup(auditService.Close)
	t.Cleanup(registration.Wait)

	app := fiber.New()
	app.Use(recover.New())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	RegisterRoutes(app, Routes{
		Auth: NewAuthHandler(
			registration,
			services.NewLoginService(deps),
			services.NewRecoveryService(deps),
			auditService,
			settings,
		),
		TwoFactor: NewTwoFactorHandler(services.NewTwoFactorService(deps), auditService, settings),
		Session:   middleware.NewAuthMiddleware(s, tokens),
		Limiter:   middleware.RateLimit(limits),
	})

	return &testEnv{app: app, db: db, mail: recorder, audit: auditService}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["message"].(string); got != expected {
		t.Fatalf("expected message %q, got %q", expected, got)
	}
}

func dataOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %+v", body)
	}
	return data
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func signupPayload(email, stateCode string) map[string]any {
	return map[string]any{
		"firstName":       "Ada",
		"lastName":        "Obi",
		"email":           email,
		"phone":           "08012345678",
		"stateCode":       stateCode,
		"servingState":    "Lagos",
		"localGovernment": "Ikeja",
		"ppa":             "Ikeja Grammar School",
		"cdsGroup":        "Health",
		"password":        testPassword,
		"confirmPassword": testPassword,
	}
}

// registerCorper signs up and verifies through the API and returns the
// session token.
func (e *testEnv) registerCorper(t *testing.T, email, stateCode string) string {
	t.Helper()

	resp := performJSONRequest(t, e.app, http.MethodPost, "/api/auth/signup", signupPayload(email, stateCode), nil)
	assertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	delivery, ok := e.mail.Last(mailer.KindVerification, email)
	if !ok {
		t.Fatalf("expected verification email for %s", email)
	}

	resp = performJSONRequest(t, e.app, http.MethodPost, "/api/auth/verify", map[string]any{
		"email":            email,
		"verificationCode": delivery.Code,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	token, _ := dataOf(t, decodeJSONMap(t, resp))["token"].(string)
	if token == "" {
		t.Fatal("expected session token")
	}
	return token
}

// enableTwoFactor runs setup and confirmation and returns the TOTP secret
// and backup codes.
func (e *testEnv) enableTwoFactor(t *testing.T, token, stateCode string) (string, []string) {
	t.Helper()

	resp := performJSONRequest(t, e.app, http.MethodPost, "/api/auth/setup-2fa", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)
	data := dataOf(t, decodeJSONMap(t, resp))

	secret, _ := data["secret"].(string)
	rawCodes, _ := data["backupCodes"].([]any)
	codes := make([]string, 0, len(rawCodes))
	for _, c := range rawCodes {
		codes = append(codes, c.(string))
	}

	resp = performJSONRequest(t, e.app, http.MethodPost, "/api/auth/verify-2fa-setup", map[string]any{
		"stateCode":     stateCode,
		"twoFactorCode": totpCode(t, secret),
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	return secret, codes
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}
	return code
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	return nil
}
