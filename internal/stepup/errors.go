package stepup

import "errors"

// Verifier and second-factor failure taxonomy. All of these are terminal for
// the attempt they belong to (the challenge is already consumed) but never
// lock the account; rate limiting of repeated failures is the gateway's job.
var (
	// ErrChallengeInvalid covers a missing, expired, wrong-purpose or
	// already-consumed challenge.
	ErrChallengeInvalid = errors.New("challenge invalid")

	// ErrChallengeMismatch means the client data did not embed the nonce the
	// consumed challenge was issued with.
	ErrChallengeMismatch = errors.New("challenge mismatch")

	ErrOriginMismatch   = errors.New("origin mismatch")
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrPossibleClone is raised when an assertion's signature counter did not
	// advance past the stored value. High severity: the credential is flagged
	// for review and the attempt is denied, never surfaced as a generic
	// invalid-code failure.
	ErrPossibleClone = errors.New("possible cloned authenticator detected")

	// ErrUnknownCredential covers both absent and revoked credentials.
	ErrUnknownCredential = errors.New("unknown or revoked credential")

	ErrInvalidTotpCode    = errors.New("invalid totp code")
	ErrInvalidBackupCode  = errors.New("invalid or used backup code")
	ErrTotpAlreadyEnabled = errors.New("totp already enabled")
	ErrTotpNotEnabled     = errors.New("totp not enabled")
	ErrTotpSetupMissing   = errors.New("totp setup not started")

	ErrMalformedResponse = errors.New("malformed ceremony response")
	ErrNoCredentials     = errors.New("no enrolled credentials")
	ErrDeviceNotFound    = errors.New("device not found")
)
