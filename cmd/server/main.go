package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/learnhub/auth/internal/challenge"
	"github.com/learnhub/auth/internal/config"
	"github.com/learnhub/auth/internal/database"
	"github.com/learnhub/auth/internal/directory"
	"github.com/learnhub/auth/internal/handlers"
	"github.com/learnhub/auth/internal/login"
	"github.com/learnhub/auth/internal/middleware"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/internal/verifier"
	"github.com/learnhub/auth/pkg/logger"
	"github.com/learnhub/auth/pkg/utils"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		log.Fatalf("webauthn initialization failed: %v", err)
	}

	challenges := challenge.NewRegistry(db, cfg.StepUp.ChallengeTTL)
	credVerifier := verifier.New(db, wa, challenges)
	totpEngine := stepup.NewTOTPEngine(db, cfg.StepUp.TOTPIssuer)
	vault := stepup.NewBackupCodeVault(db, cfg.StepUp.BackupCodeCount, cfg.StepUp.BackupCodeLength)
	devices := stepup.NewDeviceRegistry(db)
	pendingStore := login.NewStore(redisClient)
	directoryClient := directory.NewHTTPClient(cfg.Directory)
	audit := services.NewAuditService(nil)

	loginHandler := handlers.NewLoginHandler(directoryClient, totpEngine, vault, devices,
		credVerifier, pendingStore, audit, cfg.StepUp.PendingLoginTTL)
	passkeyHandler := handlers.NewPasskeyHandler(credVerifier, vault, audit)
	totpHandler := handlers.NewTOTPHandler(totpEngine, vault, directoryClient, audit)
	deviceHandler := handlers.NewDeviceHandler(devices, audit)
	stepUpHandler := handlers.NewStepUpHandler(totpEngine, vault, devices, directoryClient, audit)

	challenges.StartSweeper(time.Minute)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/login", loginHandler.Login)
	authRoutes.Post("/login/totp", loginHandler.VerifyTOTP)
	authRoutes.Post("/login/backup-code", loginHandler.VerifyBackupCode)
	authRoutes.Post("/login/passkey/begin", loginHandler.PasskeyBegin)
	authRoutes.Post("/login/passkey/complete", loginHandler.PasskeyComplete)

	passkeyRoutes := authRoutes.Group("/passkeys", middleware.RequireAuth)
	passkeyRoutes.Post("/register/begin", passkeyHandler.RegisterBegin)
	passkeyRoutes.Post("/register/complete", passkeyHandler.RegisterComplete)

	totpRoutes := authRoutes.Group("/totp", middleware.RequireAuth)
	totpRoutes.Post("/setup", totpHandler.Setup)
	totpRoutes.Post("/verify-setup", totpHandler.VerifySetup)
	totpRoutes.Post("/disable", totpHandler.Disable)

	authRoutes.Post("/backup-codes/regenerate", middleware.RequireAuth, stepUpHandler.RegenerateBackupCodes)
	authRoutes.Get("/stepup/status", middleware.RequireAuth, stepUpHandler.Status)

	deviceRoutes := authRoutes.Group("/devices", middleware.RequireAuth)
	deviceRoutes.Get("/", deviceHandler.List)
	deviceRoutes.Put("/:id", deviceHandler.Rename)
	deviceRoutes.Delete("/:id", deviceHandler.Revoke)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"rp_id":   cfg.WebAuthn.RPID,
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
