package ceremony

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// SoftwareAuthenticator is an in-process platform authenticator producing
// ES256 credentials with "none" attestation. It backs local development and
// the ceremony round-trip tests; it is not a hardware-backed key store.
type SoftwareAuthenticator struct {
	// Unavailable simulates a platform with no authenticator.
	Unavailable bool
	// CancelNext makes the next ceremony fail as user-cancelled.
	CancelNext bool

	AAGUID [16]byte

	mu    sync.Mutex
	creds map[string][]*softCredential
}

type softCredential struct {
	id         []byte
	userHandle []byte
	key        *ecdsa.PrivateKey
	signCount  uint32
}

func NewSoftwareAuthenticator() *SoftwareAuthenticator {
	return &SoftwareAuthenticator{creds: map[string][]*softCredential{}}
}

const (
	flagUserPresent    = 0x01
	flagUserVerified   = 0x04
	flagAttestedData   = 0x40
	coseKeyTypeEC2     = 2
	coseAlgES256       = -7
	coseCurveP256      = 1
	attestationFmtNone = "none"
)

type coseEC2PublicKey struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Curve     int64  `cbor:"-1,keyasint"`
	XCoord    []byte `cbor:"-2,keyasint"`
	YCoord    []byte `cbor:"-3,keyasint"`
}

type attestationObject struct {
	AuthData []byte                 `cbor:"authData"`
	Fmt      string                 `cbor:"fmt"`
	AttStmt  map[string]interface{} `cbor:"attStmt"`
}

func (a *SoftwareAuthenticator) MakeCredential(ctx context.Context, req MakeCredentialRequest) (*MakeCredentialResult, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, existing := range a.creds[req.RPID] {
		for _, excluded := range req.ExcludeCredentialIDs {
			if bytes.Equal(existing.id, excluded) {
				return nil, fmt.Errorf("%w: credential already enrolled", ErrUserCancelled)
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticatorUnavailable, err)
	}

	credID := make([]byte, 16)
	if _, err := rand.Read(credID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticatorUnavailable, err)
	}

	cosePublicKey, err := cbor.Marshal(coseEC2PublicKey{
		KeyType:   coseKeyTypeEC2,
		Algorithm: coseAlgES256,
		Curve:     coseCurveP256,
		XCoord:    key.PublicKey.X.FillBytes(make([]byte, 32)),
		YCoord:    key.PublicKey.Y.FillBytes(make([]byte, 32)),
	})
	if err != nil {
		return nil, err
	}

	cred := &softCredential{id: credID, userHandle: req.UserHandle, key: key}
	a.creds[req.RPID] = append(a.creds[req.RPID], cred)

	authData := a.buildAuthData(req.RPID, flagUserPresent|flagUserVerified|flagAttestedData, cred.signCount)
	authData = append(authData, a.AAGUID[:]...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(credID)))
	authData = append(authData, credID...)
	authData = append(authData, cosePublicKey...)

	attObj, err := cbor.Marshal(attestationObject{
		AuthData: authData,
		Fmt:      attestationFmtNone,
		AttStmt:  map[string]interface{}{},
	})
	if err != nil {
		return nil, err
	}

	return &MakeCredentialResult{CredentialID: credID, AttestationObject: attObj}, nil
}

func (a *SoftwareAuthenticator) GetAssertion(ctx context.Context, req GetAssertionRequest) (*GetAssertionResult, error) {
	if err := a.gate(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cred := a.pick(req.RPID, req.AllowCredentialIDs)
	if cred == nil {
		return nil, ErrNoMatchingCredential
	}

	cred.signCount++
	authData := a.buildAuthData(req.RPID, flagUserPresent|flagUserVerified, cred.signCount)

	digest := sha256.Sum256(append(append([]byte{}, authData...), req.ClientDataHash...))
	signature, err := ecdsa.SignASN1(rand.Reader, cred.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticatorUnavailable, err)
	}

	return &GetAssertionResult{
		CredentialID:      cred.id,
		AuthenticatorData: authData,
		Signature:         signature,
		UserHandle:        cred.userHandle,
	}, nil
}

// SetCounter overrides a credential's signature counter. Tests use it to
// simulate a cloned authenticator replaying stale state.
func (a *SoftwareAuthenticator) SetCounter(credentialID []byte, value uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, creds := range a.creds {
		for _, cred := range creds {
			if bytes.Equal(cred.id, credentialID) {
				cred.signCount = value
			}
		}
	}
}

func (a *SoftwareAuthenticator) gate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Unavailable {
		return ErrAuthenticatorUnavailable
	}
	if a.CancelNext {
		a.CancelNext = false
		return ErrUserCancelled
	}
	return nil
}

func (a *SoftwareAuthenticator) pick(rpID string, allowIDs [][]byte) *softCredential {
	creds := a.creds[rpID]
	if len(allowIDs) == 0 {
		if len(creds) == 0 {
			return nil
		}
		return creds[len(creds)-1]
	}
	for _, cred := range creds {
		for _, allowed := range allowIDs {
			if bytes.Equal(cred.id, allowed) {
				return cred
			}
		}
	}
	return nil
}

func (a *SoftwareAuthenticator) buildAuthData(rpID string, flags byte, signCount uint32) []byte {
	rpIDHash := sha256.Sum256([]byte(rpID))
	authData := make([]byte, 0, 37)
	authData = append(authData, rpIDHash[:]...)
	authData = append(authData, flags)
	authData = binary.BigEndian.AppendUint32(authData, signCount)
	return authData
}
