package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/config"
	"github.com/gloriousnetworker/nysc-backend/internal/database"
	"github.com/gloriousnetworker/nysc-backend/internal/handlers"
	"github.com/gloriousnetworker/nysc-backend/internal/mailer"
	"github.com/gloriousnetworker/nysc-backend/internal/middleware"
	"github.com/gloriousnetworker/nysc-backend/internal/services"
	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	logger.Init()

	cfg := config.Load()

	vault, err := utils.NewVault(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("secret vault initialization failed: %v", err)
	}
	tokens, err := utils.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.SessionTTL(), cfg.JWT.TempTokenTTL)
	if err != nil {
		log.Fatalf("token issuer initialization failed: %v", err)
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var challenges store.ChallengeStore
	redisClient, err := database.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		challenges = store.NewRedisChallengeStore(redisClient, "")
		logger.Info("challenge_store_selected", map[string]interface{}{"backend": "redis"})
	} else {
		challenges = store.NewGormChallengeStore(db)
		logger.Info("challenge_store_selected", map[string]interface{}{"backend": "database"})
	}

	var mail mailer.Mailer
	if cfg.SMTP.Enabled() {
		mail = mailer.NewSMTPMailer(cfg.SMTP)
	} else {
		logger.Warn("smtp_not_configured", map[string]interface{}{
			"effect": "emails are logged, not sent",
		})
		mail = mailer.NewLogMailer()
	}

	dataStore := store.New(db)
	deps := services.Dependencies{
		Store:      dataStore,
		Challenges: challenges,
		Mailer:     mail,
		Vault:      vault,
		Tokens:     tokens,
		TOTPIssuer: cfg.Security.TOTPIssuer,
	}

	registrationService := services.NewRegistrationService(deps)
	loginService := services.NewLoginService(deps)
	twoFactorService := services.NewTwoFactorService(deps)
	recoveryService := services.NewRecoveryService(deps)
	auditService := services.NewAuditService(db)

	services.NewSweeper(dataStore, challenges).Start(ctx, cfg.Sweeper.Interval)

	settings := handlers.Settings{
		Production:   cfg.App.IsProduction(),
		CookieSecure: cfg.Security.CookieSecure,
		SessionTTL:   cfg.JWT.SessionTTL(),
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
		AppName:   "nysc-backend",
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: !settings.Production}))
	app.Use(middleware.CORS(cfg.App.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	handlers.RegisterRoutes(app, handlers.Routes{
		Auth:      handlers.NewAuthHandler(registrationService, loginService, recoveryService, auditService, settings),
		TwoFactor: handlers.NewTwoFactorHandler(twoFactorService, auditService, settings),
		Session:   middleware.NewAuthMiddleware(dataStore, tokens),
		Limiter:   middleware.RateLimit(cfg.RateLimit),
	})

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":        cfg.Server.Port,
		"address":     listenAddr,
		"environment": cfg.App.Env,
		"smtp":        cfg.SMTP.Enabled(),
		"redis":       redisClient != nil,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			cancel()
			registrationService.Wait()
			auditService.Close()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
