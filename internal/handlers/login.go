package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/auth/internal/directory"
	"github.com/learnhub/auth/internal/login"
	"github.com/learnhub/auth/internal/services"
	"github.com/learnhub/auth/internal/stepup"
	"github.com/learnhub/auth/internal/verifier"
	"github.com/learnhub/auth/pkg/logger"
	"github.com/learnhub/auth/pkg/utils"
)

// LoginHandler drives the login state machine: primary credential check at
// the external directory, then the step-up decision, then the session grant.
type LoginHandler struct {
	Directory  directory.Client
	TOTP       *stepup.TOTPEngine
	Vault      *stepup.BackupCodeVault
	Devices    *stepup.DeviceRegistry
	Verifier   *verifier.Verifier
	Pending    *login.Store
	Audit      *services.AuditService
	PendingTTL time.Duration
}

func NewLoginHandler(dir directory.Client, totp *stepup.TOTPEngine, vault *stepup.BackupCodeVault,
	devices *stepup.DeviceRegistry, v *verifier.Verifier, pending *login.Store,
	audit *services.AuditService, pendingTTL time.Duration) *LoginHandler {
	return &LoginHandler{
		Directory:  dir,
		TOTP:       totp,
		Vault:      vault,
		Devices:    devices,
		Verifier:   v,
		Pending:    pending,
		Audit:      audit,
		PendingTTL: pendingTTL,
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *LoginHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Identifier == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "identifier and password are required")
	}

	account, err := h.Directory.VerifyPassword(c.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, directory.ErrPrimaryAuthFailed) {
			return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		logger.Error("directory_unavailable", err, map[string]interface{}{"ip": c.IP()})
		return utils.Error(c, fiber.StatusServiceUnavailable, "primary authentication unavailable")
	}

	now := time.Now()
	pending := login.NewPendingLogin(account.ID, account.Email, account.DisplayName, h.PendingTTL)
	pending, _, err = login.Apply(pending, login.EventPrimaryVerified, now)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to start login")
	}

	methods, err := h.enrolledMethods(account)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to check second factors")
	}

	if len(methods) == 0 {
		pending, _, err = login.Apply(pending, login.EventNoSecondFactor, now)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to complete login")
		}
		return h.grant(c, pending, "none")
	}

	pending.Methods = methods
	pending, _, err = login.Apply(pending, login.EventSecondFactorRequired, now)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to complete login")
	}

	if err := h.Pending.Save(c.Context(), pending); err != nil {
		logger.Error("pending_login_save_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed to start step-up")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"stepUpRequired": true,
		"pendingLoginID": pending.ID,
		"methods":        methods,
		"expiresAt":      pending.ExpiresAt,
	})
}

func (h *LoginHandler) enrolledMethods(account *directory.Account) ([]string, error) {
	var methods []string

	totpEnabled, err := h.TOTP.Enabled(account.ID)
	if err != nil {
		return nil, err
	}
	if totpEnabled {
		methods = append(methods, "totp")
	}

	credCount, err := h.Devices.ActiveCount(account.ID)
	if err != nil {
		return nil, err
	}
	if credCount > 0 {
		methods = append(methods, "passkey")
	}

	if totpEnabled || credCount > 0 {
		remaining, err := h.Vault.Remaining(account.ID)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			methods = append(methods, "backup_code")
		}
	}

	return methods, nil
}

type verifyTOTPRequest struct {
	PendingLoginID string `json:"pendingLoginID"`
	Code           string `json:"code"`
}

func (h *LoginHandler) VerifyTOTP(c *fiber.Ctx) error {
	var req verifyTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.PendingLoginID == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "pendingLoginID and code are required")
	}

	pending, failed := h.loadPending(c, req.PendingLoginID)
	if pending == nil {
		return failed
	}

	if err := h.TOTP.Verify(pending.AccountID, req.Code); err != nil {
		h.auditFailure(c, pending, "totp", err)
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	return h.satisfy(c, *pending, "totp")
}

type verifyBackupCodeRequest struct {
	PendingLoginID string `json:"pendingLoginID"`
	Code           string `json:"code"`
}

func (h *LoginHandler) VerifyBackupCode(c *fiber.Ctx) error {
	var req verifyBackupCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.PendingLoginID == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "pendingLoginID and code are required")
	}

	pending, failed := h.loadPending(c, req.PendingLoginID)
	if pending == nil {
		return failed
	}

	if err := h.Vault.Consume(pending.AccountID, req.Code); err != nil {
		h.auditFailure(c, pending, "backup_code", err)
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	remaining, _ := h.Vault.Remaining(pending.AccountID)
	logger.InfoWithAccount(pending.AccountID.String(), "backup_code_used", map[string]interface{}{
		"remaining_codes": remaining,
	})

	return h.satisfy(c, *pending, "backup_code")
}

type passkeyLoginBeginRequest struct {
	PendingLoginID string `json:"pendingLoginID"`
}

func (h *LoginHandler) PasskeyBegin(c *fiber.Ctx) error {
	var req passkeyLoginBeginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	pending, failed := h.loadPending(c, req.PendingLoginID)
	if pending == nil {
		return failed
	}

	options, ch, err := h.Verifier.BeginLogin(pending.Account())
	if err != nil {
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"options":     options,
		"challengeID": ch.ID,
	})
}

type passkeyLoginCompleteRequest struct {
	PendingLoginID string          `json:"pendingLoginID"`
	ChallengeID    string          `json:"challengeID"`
	Response       json.RawMessage `json:"response"`
}

func (h *LoginHandler) PasskeyComplete(c *fiber.Ctx) error {
	var req passkeyLoginCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	pending, failed := h.loadPending(c, req.PendingLoginID)
	if pending == nil {
		return failed
	}

	challengeID, err := parseUUID(req.ChallengeID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid challengeID")
	}

	cred, err := h.Verifier.FinishLogin(pending.Account(), challengeID, req.Response)
	if err != nil {
		h.auditFailure(c, pending, "passkey", err)
		if errors.Is(err, stepup.ErrPossibleClone) {
			logger.WarnWithAccount(pending.AccountID.String(), "possible_clone_detected", map[string]interface{}{
				"ip": c.IP(),
			})
		}
		status, message := stepupErrorResponse(err)
		return utils.Error(c, status, message)
	}

	logger.InfoWithAccount(pending.AccountID.String(), "passkey_verified", map[string]interface{}{
		"credential_id": cred.ID.String(),
	})

	return h.satisfy(c, *pending, "passkey")
}

// loadPending resolves the pending login or writes the failure response
// itself. A nil record means the response is already committed.
func (h *LoginHandler) loadPending(c *fiber.Ctx, rawID string) (*login.PendingLogin, error) {
	id, err := parseUUID(rawID)
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid pendingLoginID")
	}

	pending, err := h.Pending.Get(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, login.ErrPendingNotFound), errors.Is(err, login.ErrPendingExpired):
			return nil, utils.Error(c, fiber.StatusUnauthorized, "login attempt expired, start over")
		default:
			return nil, utils.Error(c, fiber.StatusInternalServerError, "failed to load login attempt")
		}
	}

	if pending.State != login.StateSecondFactorPending {
		return nil, utils.Error(c, fiber.StatusBadRequest, "login attempt is not awaiting a second factor")
	}
	return pending, nil
}

// satisfy advances the state machine to Granted and issues the session token.
func (h *LoginHandler) satisfy(c *fiber.Ctx, pending login.PendingLogin, method string) error {
	now := time.Now()
	granted, _, err := login.Apply(pending, login.EventSecondFactorVerified, now)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to complete login")
	}
	if granted.State != login.StateGranted {
		return utils.Error(c, fiber.StatusUnauthorized, "login attempt expired, start over")
	}
	return h.grant(c, granted, method)
}

func (h *LoginHandler) grant(c *fiber.Ctx, pending login.PendingLogin, method string) error {
	_ = h.Pending.Delete(c.Context(), pending.ID)

	token, err := utils.GenerateToken(pending.AccountID, pending.Email, pending.DisplayName)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &pending.AccountID,
		Action:       "login.granted",
		ResourceType: "account",
		ResourceID:   &pending.AccountID,
		Details:      map[string]interface{}{"method": method},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token})
}

func (h *LoginHandler) auditFailure(c *fiber.Ctx, pending *login.PendingLogin, method string, err error) {
	h.Audit.LogAsync(services.AuditEntry{
		AccountID:    &pending.AccountID,
		Action:       "login.step_up_failed",
		ResourceType: "account",
		ResourceID:   &pending.AccountID,
		Details:      map[string]interface{}{"method": method, "reason": err.Error()},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})
}
