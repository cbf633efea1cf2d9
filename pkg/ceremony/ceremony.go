// Package ceremony drives the client half of a platform-authenticator
// ceremony: it builds the collected client data for a server-issued challenge,
// invokes the local authenticator, and serializes the result for transport.
// It holds no secrets and verifies nothing; verification belongs exclusively
// to the server-side verifier.
package ceremony

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// Client-side failures. All are recoverable: the caller retries the ceremony
// with a fresh challenge.
var (
	ErrAuthenticatorUnavailable = errors.New("authenticator unavailable")
	ErrUserCancelled            = errors.New("user cancelled ceremony")
	ErrNoMatchingCredential     = errors.New("no matching credential for relying party")
	ErrCeremonyTimeout          = errors.New("ceremony timed out")
)

type MakeCredentialRequest struct {
	RPID                 string
	UserHandle           []byte
	ClientDataHash       []byte
	ExcludeCredentialIDs [][]byte
}

type MakeCredentialResult struct {
	CredentialID      []byte
	AttestationObject []byte
}

type GetAssertionRequest struct {
	RPID               string
	ClientDataHash     []byte
	AllowCredentialIDs [][]byte
}

type GetAssertionResult struct {
	CredentialID      []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

// Authenticator is the local platform authenticator. Implementations surface
// the package's sentinel errors so callers can distinguish a cancelled prompt
// from a missing credential.
type Authenticator interface {
	MakeCredential(ctx context.Context, req MakeCredentialRequest) (*MakeCredentialResult, error)
	GetAssertion(ctx context.Context, req GetAssertionRequest) (*GetAssertionResult, error)
}

// Coordinator binds an authenticator to the origin the client is running in.
type Coordinator struct {
	Origin        string
	Authenticator Authenticator
}

func NewCoordinator(origin string, authenticator Authenticator) *Coordinator {
	return &Coordinator{Origin: origin, Authenticator: authenticator}
}

type collectedClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// Register runs the create ceremony for server-issued creation options and
// returns the attestation response in the transport encoding the server's
// registerComplete expects.
func (c *Coordinator) Register(ctx context.Context, creation *protocol.CredentialCreation) (json.RawMessage, error) {
	opts := creation.Response

	ctx, cancel := ceremonyContext(ctx, opts.Timeout)
	defer cancel()

	clientDataJSON, clientDataHash, err := c.buildClientData("webauthn.create", opts.Challenge)
	if err != nil {
		return nil, err
	}

	excludeIDs := make([][]byte, len(opts.CredentialExcludeList))
	for i, desc := range opts.CredentialExcludeList {
		excludeIDs[i] = desc.CredentialID
	}

	userHandle, err := userHandleBytes(opts.User.ID)
	if err != nil {
		return nil, err
	}

	result, err := c.Authenticator.MakeCredential(ctx, MakeCredentialRequest{
		RPID:                 opts.RelyingParty.ID,
		UserHandle:           userHandle,
		ClientDataHash:       clientDataHash,
		ExcludeCredentialIDs: excludeIDs,
	})
	if err != nil {
		return nil, ceremonyError(ctx, err)
	}

	return json.Marshal(map[string]interface{}{
		"id":    protocol.URLEncodedBase64(result.CredentialID),
		"rawId": protocol.URLEncodedBase64(result.CredentialID),
		"type":  "public-key",
		"response": map[string]interface{}{
			"clientDataJSON":    protocol.URLEncodedBase64(clientDataJSON),
			"attestationObject": protocol.URLEncodedBase64(result.AttestationObject),
		},
	})
}

// Authenticate runs the assert ceremony for server-issued request options and
// returns the serialized assertion for loginComplete.
func (c *Coordinator) Authenticate(ctx context.Context, assertion *protocol.CredentialAssertion) (json.RawMessage, error) {
	opts := assertion.Response

	ctx, cancel := ceremonyContext(ctx, opts.Timeout)
	defer cancel()

	clientDataJSON, clientDataHash, err := c.buildClientData("webauthn.get", opts.Challenge)
	if err != nil {
		return nil, err
	}

	allowIDs := make([][]byte, len(opts.AllowedCredentials))
	for i, desc := range opts.AllowedCredentials {
		allowIDs[i] = desc.CredentialID
	}

	result, err := c.Authenticator.GetAssertion(ctx, GetAssertionRequest{
		RPID:               opts.RelyingPartyID,
		ClientDataHash:     clientDataHash,
		AllowCredentialIDs: allowIDs,
	})
	if err != nil {
		return nil, ceremonyError(ctx, err)
	}

	return json.Marshal(map[string]interface{}{
		"id":    protocol.URLEncodedBase64(result.CredentialID),
		"rawId": protocol.URLEncodedBase64(result.CredentialID),
		"type":  "public-key",
		"response": map[string]interface{}{
			"clientDataJSON":    protocol.URLEncodedBase64(clientDataJSON),
			"authenticatorData": protocol.URLEncodedBase64(result.AuthenticatorData),
			"signature":         protocol.URLEncodedBase64(result.Signature),
			"userHandle":        protocol.URLEncodedBase64(result.UserHandle),
		},
	})
}

func (c *Coordinator) buildClientData(ceremonyType string, challenge protocol.URLEncodedBase64) ([]byte, []byte, error) {
	if len(challenge) == 0 {
		return nil, nil, fmt.Errorf("creation options carry no challenge")
	}

	clientDataJSON, err := json.Marshal(collectedClientData{
		Type:      ceremonyType,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    c.Origin,
	})
	if err != nil {
		return nil, nil, err
	}

	hash := sha256.Sum256(clientDataJSON)
	return clientDataJSON, hash[:], nil
}

func ceremonyContext(ctx context.Context, timeout int) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

func ceremonyError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCeremonyTimeout, err)
	}
	return err
}

func userHandleBytes(id interface{}) ([]byte, error) {
	switch v := id.(type) {
	case protocol.URLEncodedBase64:
		return v, nil
	case []byte:
		return v, nil
	case string:
		decoded, err := base64.RawURLEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decoding user handle: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported user handle type %T", id)
	}
}
