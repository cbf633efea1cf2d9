package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/challenge"
	"github.com/learnhub/auth/internal/directory"
	"github.com/learnhub/auth/internal/login"
	"github.com/learnhub/auth/internal/middleware"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/internal/verifier"
	"github.com/learnhub/auth/pkg/ceremony"
	"github.com/learnhub/auth/pkg/logger"
	"github.com/learnhub/auth/pkg/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const testOrigin = "http://localhost:3001"

type testEnv struct {
	app           *fiber.App
	db            *gorm.DB
	redis         *miniredis.Miniredis
	dir           *fakeDirectory
	authenticator *ceremony.SoftwareAuthenticator
	client        *ceremony.Coordinator
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
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

	err = db.AutoMigrate(
		&models.Credential{},
		&models.Challenge{},
		&models.TOTPSecret{},
		&models.BackupCode{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = redisClient.Close()
	})

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          "localhost",
		RPDisplayName: "LearnHub",
		RPOrigins:     []string{testOrigin},
	})
	if err != nil {
		t.Fatalf("failed building webauthn config: %v", err)
	}

	dir := newFakeDirectory()
	challenges := challenge.NewRegistry(db, 3*time.Minute)
	credVerifier := verifier.New(db, wa, challenges)
	totpEngine := stepup.NewTOTPEngine(db, "LearnHub")
	vault := stepup.NewBackupCodeVault(db, 10, 8)
	devices := stepup.NewDeviceRegistry(db)
	pendingStore := login.NewStore(redisClient)
	audit := services.NewAuditService(nil)

	loginHandler := NewLoginHandler(dir, totpEngine, vault, devices,
		credVerifier, pendingStore, audit, 10*time.Minute)
	passkeyHandler := NewPasskeyHandler(credVerifier, vault, audit)
	totpHandler := NewTOTPHandler(totpEngine, vault, dir, audit)
	deviceHandler := NewDeviceHandler(devices, audit)
	stepUpHandler := NewStepUpHandler(totpEngine, vault, devices, dir, audit)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

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

	authenticator := ceremony.NewSoftwareAuthenticator()

	return &testEnv{
		app:           app,
		db:            db,
		redis:         mr,
		dir:           dir,
		authenticator: authenticator,
		client:        ceremony.NewCoordinator(testOrigin, authenticator),
	}
}

// fakeDirectory is an in-memory stand-in for the external user directory.
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]fakeDirectoryEntry
	down     bool
}

type fakeDirectoryEntry struct {
	account  directory.Account
	password string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: map[string]fakeDirectoryEntry{}}
}

func (f *fakeDirectory) add(email, password, displayName string) directory.Account {
	f.mu.Lock()
	defer f.mu.Unlock()

	account := directory.Account{ID: uuid.New(), Email: email, DisplayName: displayName}
	f.accounts[email] = fakeDirectoryEntry{account: account, password: password}
	return account
}

func (f *fakeDirectory) VerifyPassword(_ context.Context, identifier, password string) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, directory.ErrUnavailable
	}
	entry, ok := f.accounts[identifier]
	if !ok || entry.password != password {
		return nil, directory.ErrPrimaryAuthFailed
	}
	account := entry.account
	return &account, nil
}

func (f *fakeDirectory) GetAccount(_ context.Context, id uuid.UUID) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, directory.ErrUnavailable
	}
	for _, entry := range f.accounts {
		if entry.account.ID == id {
			account := entry.account
			return &account, nil
		}
	}
	return nil, directory.ErrAccountNotFound
}

func createTestAccount(t *testing.T, env *testEnv, email, password string) (directory.Account, string) {
	t.Helper()

	account := env.dir.add(email, password, "Test Account")
	token, err := utils.GenerateToken(account.ID, account.Email, account.DisplayName)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}
	return account, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
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

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()

	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("response carries no data object: %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// remarshal decodes a generic JSON value into a typed options struct.
func remarshal(t *testing.T, value any, target any) {
	t.Helper()

	encoded, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("failed re-encoding value: %v", err)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		t.Fatalf("failed decoding into %T: %v", target, err)
	}
}

func stringSlice(t *testing.T, value any) []string {
	t.Helper()

	raw, ok := value.([]any)
	if !ok {
		t.Fatalf("expected array, got %T", value)
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			t.Fatalf("expected string element, got %T", item)
		}
		out[i] = s
	}
	return out
}

func contains(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}
