package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/auth/internal/middleware"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/internal/verifier"
	"github.com/learnhub/auth/pkg/logger"
	"github.com/learnhub/auth/pkg/utils"
)

// PasskeyHandler covers passkey enrollment for an already-authenticated
// session. Login-time assertions live on LoginHandler.
type PasskeyHandler struct {
	Verifier *verifier.Verifier
	Vault    *stepup.BackupCodeVault
	Audit    *services.AuditService
}

func NewPasskeyHandler(v *verifier.Verifier, vault *stepup.BackupCodeVault, audit *services.AuditService) *PasskeyHandler {
	return &PasskeyHandler{Verifier: v, Vault: vault, Audit: audit}
}

func (h *PasskeyHandler) RegisterBegin(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	options, ch, err := h.Verifier.BeginRegistration(*account)
	if err != nil {
		logger.ErrorWithAccount(account.ID.String(), "passkey_register_begin_failed", err, nil)
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"options":     options,
		"challengeID": ch.ID,
	})
}

type registerCompleteRequest struct {
	ChallengeID string          `json:"challengeID"`
	DeviceLabel string          `json:"deviceLabel"`
	Response    json.RawMessage `json:"response"`
}

// RegisterComplete verifies the attestation and persists the credential. The
// first credential an account ever enrolls also mints its backup code batch;
// later enrollments leave the existing batch alone.
func (h *PasskeyHandler) RegisterComplete(c *fiber.Ctx) error {
	account := middleware.GetCurrentAccount(c)
	if account == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "authentication required")
	}

	var req registerCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "response is required")
	}

	challengeID, err := parseUUID(req.ChallengeID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid challengeID")
	}

	cred, err := h.Verifier.FinishRegistration(*account, challengeID, req.DeviceLabel, req.Response)
	if err != nil {
		logger.WarnWithAccount(account.ID.String(), "passkey_register_failed", map[string]interface{}{
			"error": err.Error(),
		})
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &account.ID,
		Action:       "passkey.enrolled",
		ResourceType: "credential",
		ResourceID:   &cred.ID,
		Details:      map[string]interface{}{"device_label": cred.DeviceLabel},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	payload := fiber.Map{
		"credential": deviceView(*cred),
	}

	hasCodes, err := h.Vault.HasCodes(account.ID)
	if err == nil && !hasCodes {
		if codes, genErr := h.Vault.Generate(account.ID); genErr == nil {
			payload["backupCodes"] = codes
		} else {
			logger.ErrorWithAccount(account.ID.String(), "backup_code_generate_failed", genErr, nil)
		}
	}

	return utils.Success(c, fiber.StatusCreated, payload)
}
