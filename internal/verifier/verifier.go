package verifier

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/challenge"
	"github.com/learnhub/auth/internal/directory"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/internal/stepup"
	"gorm.io/gorm"
)

// Verifier owns the server side of both ceremonies. It is the only component
// allowed to accept or reject an attestation or assertion; clients never
// verify anything themselves.
//
// Attestation trust chains are not evaluated: credentials are accepted with
// the self-attestation posture and "none" attestation format.
type Verifier struct {
	DB         *gorm.DB
	WebAuthn   *webauthn.WebAuthn
	Challenges *challenge.Registry
}

func New(db *gorm.DB, wa *webauthn.WebAuthn, challenges *challenge.Registry) *Verifier {
	return &Verifier{DB: db, WebAuthn: wa, Challenges: challenges}
}

// ceremonyUser adapts a directory account and its stored credentials to the
// webauthn.User contract.
type ceremonyUser struct {
	account directory.Account
	creds   []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	b, _ := u.account.ID.MarshalBinary()
	return b
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.account.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.account.DisplayName
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

func (v *Verifier) loadCeremonyUser(account directory.Account) (*ceremonyUser, error) {
	var dbCreds []models.Credential
	if err := v.DB.Where("account_id = ? AND revoked = ?", account.ID, false).Find(&dbCreds).Error; err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(dbCreds))
	for i, dc := range dbCreds {
		var transports []protocol.AuthenticatorTransport
		if dc.Transports != "" {
			var ts []string
			json.Unmarshal([]byte(dc.Transports), &ts)
			for _, t := range ts {
				transports = append(transports, protocol.AuthenticatorTransport(t))
			}
		}
		creds[i] = webauthn.Credential{
			ID:              dc.CredentialID,
			PublicKey:       dc.PublicKey,
			AttestationType: dc.AttestationType,
			Authenticator: webauthn.Authenticator{
				AAGUID:    dc.AAGUID,
				SignCount: dc.SignCount,
			},
			Transport: transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: dc.BackupEligible,
				BackupState:    dc.BackupState,
			},
		}
	}

	return &ceremonyUser{account: account, creds: creds}, nil
}

// BeginRegistration issues a Register challenge and the creation options the
// client ceremony needs. Already-enrolled credentials are excluded so the
// authenticator refuses to double-enroll.
func (v *Verifier) BeginRegistration(account directory.Account) (*protocol.CredentialCreation, *models.Challenge, error) {
	user, err := v.loadCeremonyUser(account)
	if err != nil {
		return nil, nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, len(user.creds))
	for i, cred := range user.creds {
		exclusions[i] = cred.Descriptor()
	}

	options, session, err := v.WebAuthn.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, nil, err
	}

	ch, err := v.storeSession(&account.ID, models.ChallengeRegister, session)
	if err != nil {
		return nil, nil, err
	}
	return options, ch, nil
}

// FinishRegistration consumes the Register challenge, verifies the attestation
// response, and persists the new credential with the attested public key and
// initial signature counter.
func (v *Verifier) FinishRegistration(account directory.Account, challengeID uuid.UUID, deviceLabel string, response []byte) (*models.Credential, error) {
	ch, session, err := v.consumeSession(challengeID, models.ChallengeRegister)
	if err != nil {
		return nil, err
	}
	if ch.AccountID == nil || *ch.AccountID != account.ID {
		return nil, fmt.Errorf("%w: issued to a different account", stepup.ErrChallengeInvalid)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stepup.ErrMalformedResponse, err)
	}

	if err := v.checkClientData(parsed.Response.CollectedClientData, session.Challenge); err != nil {
		return nil, err
	}

	user, err := v.loadCeremonyUser(account)
	if err != nil {
		return nil, err
	}

	credential, err := v.WebAuthn.CreateCredential(user, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stepup.ErrSignatureInvalid, err)
	}

	if deviceLabel == "" {
		deviceLabel = "Passkey"
	}

	var transportsJSON []byte
	if len(credential.Transport) > 0 {
		ts := make([]string, len(credential.Transport))
		for i, t := range credential.Transport {
			ts[i] = string(t)
		}
		transportsJSON, _ = json.Marshal(ts)
	}

	dbCred := models.Credential{
		AccountID:       account.ID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		DeviceLabel:     deviceLabel,
		Transports:      string(transportsJSON),
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
	}
	if err := v.DB.Create(&dbCred).Error; err != nil {
		return nil, err
	}

	return &dbCred, nil
}

// BeginLogin issues an Authenticate challenge with the account's active
// credential IDs as the allow list.
func (v *Verifier) BeginLogin(account directory.Account) (*protocol.CredentialAssertion, *models.Challenge, error) {
	user, err := v.loadCeremonyUser(account)
	if err != nil {
		return nil, nil, err
	}
	if len(user.creds) == 0 {
		return nil, nil, stepup.ErrNoCredentials
	}

	options, session, err := v.WebAuthn.BeginLogin(user)
	if err != nil {
		return nil, nil, err
	}

	ch, err := v.storeSession(&account.ID, models.ChallengeAuthenticate, session)
	if err != nil {
		return nil, nil, err
	}
	return options, ch, nil
}

// FinishLogin consumes the Authenticate challenge and verifies the assertion:
// credential lookup, client data binding, signature, then replay defense via
// a compare-and-swap counter advancement. A counter that fails to advance
// flags the credential and denies the attempt.
func (v *Verifier) FinishLogin(account directory.Account, challengeID uuid.UUID, response []byte) (*models.Credential, error) {
	ch, session, err := v.consumeSession(challengeID, models.ChallengeAuthenticate)
	if err != nil {
		return nil, err
	}
	if ch.AccountID == nil || *ch.AccountID != account.ID {
		return nil, fmt.Errorf("%w: issued to a different account", stepup.ErrChallengeInvalid)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stepup.ErrMalformedResponse, err)
	}

	var dbCred models.Credential
	err = v.DB.First(&dbCred, "credential_id = ?", []byte(parsed.RawID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, stepup.ErrUnknownCredential
	}
	if err != nil {
		return nil, err
	}
	if dbCred.Revoked || dbCred.AccountID != account.ID {
		return nil, stepup.ErrUnknownCredential
	}

	if err := v.checkClientData(parsed.Response.CollectedClientData, session.Challenge); err != nil {
		return nil, err
	}

	user, err := v.loadCeremonyUser(account)
	if err != nil {
		return nil, err
	}

	credential, err := v.WebAuthn.ValidateLogin(user, *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stepup.ErrSignatureInvalid, err)
	}

	if credential.Authenticator.CloneWarning {
		return nil, v.flagClone(&dbCred)
	}

	now := time.Now()
	newCount := credential.Authenticator.SignCount

	if newCount == 0 && dbCred.SignCount == 0 {
		// Authenticator never increments its counter; nothing to advance.
		if err := v.DB.Model(&dbCred).Update("last_used_at", now).Error; err != nil {
			return nil, err
		}
	} else {
		res := v.DB.Model(&models.Credential{}).
			Where("id = ? AND sign_count = ?", dbCred.ID, dbCred.SignCount).
			Updates(map[string]interface{}{"sign_count": newCount, "last_used_at": now})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent assertion advanced the counter first; this one is
			// a replay of the same authenticator state.
			return nil, v.flagClone(&dbCred)
		}
		dbCred.SignCount = newCount
	}

	dbCred.LastUsedAt = &now
	return &dbCred, nil
}

func (v *Verifier) flagClone(cred *models.Credential) error {
	v.DB.Model(cred).Update("clone_warning", true)
	return stepup.ErrPossibleClone
}

func (v *Verifier) checkClientData(ccd protocol.CollectedClientData, expectedChallenge string) error {
	if ccd.Challenge != expectedChallenge {
		return stepup.ErrChallengeMismatch
	}
	for _, origin := range v.WebAuthn.Config.RPOrigins {
		if ccd.Origin == origin {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", stepup.ErrOriginMismatch, ccd.Origin)
}

func (v *Verifier) storeSession(accountID *uuid.UUID, purpose models.ChallengePurpose, session *webauthn.SessionData) (*models.Challenge, error) {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.RawURLEncoding.DecodeString(session.Challenge)
	if err != nil {
		return nil, err
	}

	return v.Challenges.Issue(accountID, purpose, nonce, string(sessionJSON))
}

func (v *Verifier) consumeSession(challengeID uuid.UUID, purpose models.ChallengePurpose) (*models.Challenge, *webauthn.SessionData, error) {
	ch, err := v.Challenges.Consume(challengeID, purpose)
	if err != nil {
		return nil, nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(ch.SessionData), &session); err != nil {
		return nil, nil, err
	}
	return ch, &session, nil
}
