package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/auth/internal/middleware"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/pkg/utils"
)

type DeviceHandler struct {
	Devices *stepup.DeviceRegistry
	Audit   *services.AuditService
}

func NewDeviceHandler(devices *stepup.DeviceRegistry, audit *services.AuditService) *DeviceHandler {
	return &DeviceHandler{Devices: devices, Audit: audit}
}

// deviceView is the owner-facing shape of a credential. Key material and
// counters stay server-side.
func deviceView(cred models.Credential) fiber.Map {
	return fiber.Map{
		"id":             cred.ID,
		"deviceLabel":    cred.DeviceLabel,
		"createdAt":      cred.CreatedAt,
		"lastUsedAt":     cred.LastUsedAt,
		"backupEligible": cred.BackupEligible,
		"backupState":    cred.BackupState,
	}
}

func (h *DeviceHandler) List(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	creds, err := h.Devices.List(account.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list devices")
	}

	views := make([]fiber.Map, len(creds))
	for i, cred := range creds {
		views[i] = deviceView(cred)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"devices": views})
}

type renameDeviceRequest struct {
	DeviceLabel string `json:"deviceLabel"`
}

func (h *DeviceHandler) Rename(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	deviceID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid device id")
	}

	var req renameDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.DeviceLabel == "" {
		return utils.Error(c, fiber.StatusBadRequest, "deviceLabel is required")
	}

	if err := h.Devices.Rename(account.ID, deviceID, req.DeviceLabel); err != nil {
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"deviceLabel": req.DeviceLabel})
}

// Revoke retires a credential from the allow list. Revoking the last device
// is allowed; the account falls back to its other factors.
func (h *DeviceHandler) Revoke(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	deviceID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid device id")
	}

	if err := h.Devices.Revoke(account.ID, deviceID); err != nil {
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &account.ID,
		Action:       "device.revoked",
		ResourceType: "credential",
		ResourceID:   &deviceID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"revoked": true})
}
