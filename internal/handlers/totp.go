package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/auth/internal/directory"
	"github.com/learnhub/auth/internal/middleware"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/pkg/logger"
	"github.com/learnhub/auth/pkg/utils"
)

type TOTPHandler struct {
	Engine    *stepup.TOTPEngine
	Vault     *stepup.BackupCodeVault
	Directory directory.Client
	Audit     *services.AuditService
}

func NewTOTPHandler(engine *stepup.TOTPEngine, vault *stepup.BackupCodeVault,
	dir directory.Client, audit *services.AuditService) *TOTPHandler {
	return &TOTPHandler{Engine: engine, Vault: vault, Directory: dir, Audit: audit}
}

// Setup starts enrollment. The secret and otpauth URI are returned exactly
// once; nothing is active until a code is confirmed.
func (h *TOTPHandler) Setup(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	enrollment, err := h.Engine.BeginEnrollment(account.ID, account.Email)
	if err != nil {
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret":     enrollment.Secret,
		"otpauthURL": enrollment.DisplayURI,
	})
}

type verifySetupRequest struct {
	Code string `json:"code"`
}

// VerifySetup confirms the pending secret with a live code. Enabling TOTP
// always replaces the backup code batch so the owner holds fresh recovery
// material for the new factor.
func (h *TOTPHandler) VerifySetup(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	var req verifySetupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	if err := h.Engine.ConfirmEnrollment(account.ID, req.Code); err != nil {
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &account.ID,
		Action:       "totp.enabled",
		ResourceType: "account",
		ResourceID:   &account.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	codes, err := h.Vault.Generate(account.ID)
	if err != nil {
		logger.ErrorWithAccount(account.ID.String(), "backup_code_generate_failed", err, nil)
		return utils.Success(c, fiber.StatusOK, fiber.Map{"enabled": true})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"enabled":     true,
		"backupCodes": codes,
	})
}

type disableTOTPRequest struct {
	Password string `json:"password"`
}

// Disable removes the TOTP secret. It demands a fresh password check against
// the directory; possession of a session token is not sufficient to strip a
// factor.
func (h *TOTPHandler) Disable(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	var req disableTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}

	if _, err := h.Directory.VerifyPassword(c.Context(), account.Email, req.Password); err != nil {
		if errors.Is(err, directory.ErrPrimaryAuthFailed) {
			return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		return utils.Error(c, fiber.StatusServiceUnavailable, "primary authentication unavailable")
	}

	if err := h.Engine.Disable(account.ID); err != nil {
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &account.ID,
		Action:       "totp.disabled",
		ResourceType: "account",
		ResourceID:   &account.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"enabled": false})
}
