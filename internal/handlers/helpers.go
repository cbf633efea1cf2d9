package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/stepup"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

// stepupErrorResponse maps the verifier taxonomy to transport statuses. The
// clone case keeps its own message on purpose; it must never look like a
// generic invalid-code failure.
func stepupErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, stepup.ErrChallengeInvalid):
		return fiber.StatusBadRequest, "challenge invalid"
	case errors.Is(err, stepup.ErrChallengeMismatch):
		return fiber.StatusBadRequest, "challenge mismatch"
	case errors.Is(err, stepup.ErrOriginMismatch):
		return fiber.StatusBadRequest, "origin mismatch"
	case errors.Is(err, stepup.ErrMalformedResponse):
		return fiber.StatusBadRequest, "malformed ceremony response"
	case errors.Is(err, stepup.ErrSignatureInvalid):
		return fiber.StatusUnauthorized, "signature invalid"
	case errors.Is(err, stepup.ErrPossibleClone):
		return fiber.StatusUnauthorized, "credential flagged: possible cloned authenticator"
	case errors.Is(err, stepup.ErrUnknownCredential):
		return fiber.StatusUnauthorized, "unknown or revoked credential"
	case errors.Is(err, stepup.ErrInvalidTotpCode):
		return fiber.StatusUnauthorized, "invalid code"
	case errors.Is(err, stepup.ErrInvalidBackupCode):
		return fiber.StatusUnauthorized, "invalid or already used backup code"
	case errors.Is(err, stepup.ErrTotpAlreadyEnabled):
		return fiber.StatusConflict, "TOTP is already enabled"
	case errors.Is(err, stepup.ErrTotpNotEnabled):
		return fiber.StatusBadRequest, "TOTP is not enabled"
	case errors.Is(err, stepup.ErrTotpSetupMissing):
		return fiber.StatusBadRequest, "TOTP setup not started"
	case errors.Is(err, stepup.ErrNoCredentials):
		return fiber.StatusBadRequest, "no enrolled credentials"
	case errors.Is(err, stepup.ErrDeviceNotFound):
		return fiber.StatusNotFound, "device not found"
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}
