package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/auth/internal/directory"
	"github.com/learnhub/auth/internal/middleware"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/pkg/utils"
)

// StepUpHandler reports enrollment state and manages the backup code batch.
type StepUpHandler struct {
	TOTP      *stepup.TOTPEngine
	Vault     *stepup.BackupCodeVault
	Devices   *stepup.DeviceRegistry
	Directory directory.Client
	Audit     *services.AuditService
}

func NewStepUpHandler(totp *stepup.TOTPEngine, vault *stepup.BackupCodeVault,
	devices *stepup.DeviceRegistry, dir directory.Client, audit *services.AuditService) *StepUpHandler {
	return &StepUpHandler{TOTP: totp, Vault: vault, Devices: devices, Directory: dir, Audit: audit}
}

func (h *StepUpHandler) Status(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	totpEnabled, confirmedAt, err := h.TOTP.Status(account.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load status")
	}

	passkeyCount, err := h.Devices.ActiveCount(account.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load status")
	}

	remaining, err := h.Vault.Remaining(account.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load status")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totpEnabled":          totpEnabled,
		"totpConfirmedAt":      confirmedAt,
		"passkeyCount":         passkeyCount,
		"backupCodesRemaining": remaining,
		"stepUpEnrolled":       totpEnabled || passkeyCount > 0,
	})
}

type regenerateCodesRequest struct {
	Password string `json:"password"`
}

// RegenerateBackupCodes replaces the whole batch. Like factor removal it
// requires a fresh password check, since the new codes bypass every other
// factor.
func (h *StepUpHandler) RegenerateBackupCodes(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	var req regenerateCodesRequest
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

	codes, err := h.Vault.Generate(account.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate backup codes")
	}

	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &account.ID,
		Action:       "backup_codes.regenerated",
		ResourceType: "account",
		ResourceID:   &account.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"backupCodes": codes})
}
