package ceremony

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:3001"
)

func newChallenge(t *testing.T) protocol.URLEncodedBase64 {
	t.Helper()

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("failed generating challenge: %v", err)
	}
	return nonce
}

func creationOptions(t *testing.T, challenge protocol.URLEncodedBase64) *protocol.CredentialCreation {
	t.Helper()

	return &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: challenge,
			RelyingParty: protocol.RelyingPartyEntity{
				ID: testRPID,
			},
			User: protocol.UserEntity{
				ID: protocol.URLEncodedBase64("account-handle"),
			},
		},
	}
}

func assertionOptions(challenge protocol.URLEncodedBase64, allowed ...[]byte) *protocol.CredentialAssertion {
	opts := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:      challenge,
			RelyingPartyID: testRPID,
		},
	}
	for _, id := range allowed {
		opts.Response.AllowedCredentials = append(opts.Response.AllowedCredentials, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: id,
		})
	}
	return opts
}

func TestRegisterProducesParseableAttestation(t *testing.T) {
	coord := NewCoordinator(testOrigin, NewSoftwareAuthenticator())
	challenge := newChallenge(t)

	response, err := coord.Register(context.Background(), creationOptions(t, challenge))
	if err != nil {
		t.Fatalf("register ceremony failed: %v", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		t.Fatalf("server-side parse failed: %v", err)
	}

	ccd := parsed.Response.CollectedClientData
	if ccd.Type != "webauthn.create" {
		t.Fatalf("wrong client data type %q", ccd.Type)
	}
	if ccd.Origin != testOrigin {
		t.Fatalf("wrong origin %q", ccd.Origin)
	}
	if ccd.Challenge != base64.RawURLEncoding.EncodeToString(challenge) {
		t.Fatal("client data challenge does not match the issued challenge")
	}
	if len(parsed.RawID) == 0 {
		t.Fatal("response carries no credential ID")
	}
}

func TestAuthenticateProducesParseableAssertion(t *testing.T) {
	auth := NewSoftwareAuthenticator()
	coord := NewCoordinator(testOrigin, auth)

	created, err := coord.Register(context.Background(), creationOptions(t, newChallenge(t)))
	if err != nil {
		t.Fatalf("register ceremony failed: %v", err)
	}
	parsedCreation, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(created))
	if err != nil {
		t.Fatalf("parse creation failed: %v", err)
	}

	challenge := newChallenge(t)
	response, err := coord.Authenticate(context.Background(), assertionOptions(challenge, parsedCreation.RawID))
	if err != nil {
		t.Fatalf("authenticate ceremony failed: %v", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		t.Fatalf("server-side parse failed: %v", err)
	}
	if parsed.Response.CollectedClientData.Type != "webauthn.get" {
		t.Fatalf("wrong client data type %q", parsed.Response.CollectedClientData.Type)
	}
	if !bytes.Equal(parsed.RawID, parsedCreation.RawID) {
		t.Fatal("assertion names a different credential than was enrolled")
	}
	if len(parsed.Response.Signature) == 0 {
		t.Fatal("assertion carries no signature")
	}
}

func TestRegisterRejectsMissingChallenge(t *testing.T) {
	coord := NewCoordinator(testOrigin, NewSoftwareAuthenticator())

	if _, err := coord.Register(context.Background(), creationOptions(t, nil)); err == nil {
		t.Fatal("expected error for options without a challenge")
	}
}

func TestAuthenticateWithoutCredential(t *testing.T) {
	coord := NewCoordinator(testOrigin, NewSoftwareAuthenticator())

	_, err := coord.Authenticate(context.Background(), assertionOptions(newChallenge(t)))
	if !errors.Is(err, ErrNoMatchingCredential) {
		t.Fatalf("expected ErrNoMatchingCredential, got %v", err)
	}
}

func TestUnavailableAuthenticator(t *testing.T) {
	auth := NewSoftwareAuthenticator()
	auth.Unavailable = true
	coord := NewCoordinator(testOrigin, auth)

	_, err := coord.Register(context.Background(), creationOptions(t, newChallenge(t)))
	if !errors.Is(err, ErrAuthenticatorUnavailable) {
		t.Fatalf("expected ErrAuthenticatorUnavailable, got %v", err)
	}
}

func TestCancelledCeremony(t *testing.T) {
	auth := NewSoftwareAuthenticator()
	auth.CancelNext = true
	coord := NewCoordinator(testOrigin, auth)

	_, err := coord.Register(context.Background(), creationOptions(t, newChallenge(t)))
	if !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}

	// Only the next ceremony is cancelled.
	if _, err := coord.Register(context.Background(), creationOptions(t, newChallenge(t))); err != nil {
		t.Fatalf("ceremony after cancellation failed: %v", err)
	}
}

// blockingAuthenticator waits for the ceremony deadline.
type blockingAuthenticator struct{}

func (blockingAuthenticator) MakeCredential(ctx context.Context, _ MakeCredentialRequest) (*MakeCredentialResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingAuthenticator) GetAssertion(ctx context.Context, _ GetAssertionRequest) (*GetAssertionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCeremonyTimeout(t *testing.T) {
	coord := NewCoordinator(testOrigin, blockingAuthenticator{})

	options := creationOptions(t, newChallenge(t))
	options.Response.Timeout = 10 // milliseconds

	_, err := coord.Register(context.Background(), options)
	if !errors.Is(err, ErrCeremonyTimeout) {
		t.Fatalf("expected ErrCeremonyTimeout, got %v", err)
	}
}
