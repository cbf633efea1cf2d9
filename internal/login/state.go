package login

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/directory"
)

// The login state machine sequences primary auth -> step-up decision ->
// session grant. Transitions are a pure function over an immutable snapshot;
// the Redis store is the only place state is held, so concurrent login
// attempts from different contexts cannot interfere through ambient flags.

type State string

const (
	StatePrimaryPending        State = "primary_pending"
	StatePrimaryVerified       State = "primary_verified"
	StateSecondFactorPending   State = "second_factor_pending"
	StateSecondFactorSatisfied State = "second_factor_satisfied"
	StateGranted               State = "granted"
	StateDenied                State = "denied"
	StateExpired               State = "expired"
)

type Event string

const (
	EventPrimaryVerified      Event = "primary_verified"
	EventNoSecondFactor       Event = "no_second_factor"
	EventSecondFactorRequired Event = "second_factor_required"
	EventSecondFactorVerified Event = "second_factor_verified"
	EventSecondFactorFailed   Event = "second_factor_failed"
	EventGranted              Event = "granted"
	EventDenied               Event = "denied"
	EventExpired              Event = "expired"
)

var ErrInvalidTransition = errors.New("invalid login state transition")

// PendingLogin is the transient attempt record. It lives only in the
// ephemeral store and is destroyed on grant or expiry.
type PendingLogin struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"accountID"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	State       State     `json:"state"`
	Methods     []string  `json:"methods"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func NewPendingLogin(accountID uuid.UUID, email, displayName string, ttl time.Duration) PendingLogin {
	now := time.Now()
	return PendingLogin{
		ID:          uuid.New(),
		AccountID:   accountID,
		Email:       email,
		DisplayName: displayName,
		State:       StatePrimaryPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Account reconstructs the directory view captured at primary auth time.
func (p PendingLogin) Account() directory.Account {
	return directory.Account{ID: p.AccountID, Email: p.Email, DisplayName: p.DisplayName}
}

func (p PendingLogin) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Apply returns the successor state and any derived events. The input is
// never mutated. Expiry wins over every other event: an expired attempt
// restarts from scratch with no partial credit.
func Apply(p PendingLogin, ev Event, now time.Time) (PendingLogin, []Event, error) {
	if ev != EventExpired && p.Expired(now) {
		p.State = StateExpired
		return p, []Event{EventExpired}, nil
	}

	switch ev {
	case EventExpired:
		p.State = StateExpired
		return p, nil, nil

	case EventPrimaryVerified:
		if p.State != StatePrimaryPending {
			return p, nil, ErrInvalidTransition
		}
		p.State = StatePrimaryVerified
		return p, nil, nil

	case EventNoSecondFactor:
		if p.State != StatePrimaryVerified {
			return p, nil, ErrInvalidTransition
		}
		p.State = StateGranted
		return p, []Event{EventGranted}, nil

	case EventSecondFactorRequired:
		if p.State != StatePrimaryVerified {
			return p, nil, ErrInvalidTransition
		}
		p.State = StateSecondFactorPending
		return p, nil, nil

	case EventSecondFactorVerified:
		if p.State != StateSecondFactorPending {
			return p, nil, ErrInvalidTransition
		}
		p.State = StateSecondFactorSatisfied
		return Apply(p, EventGranted, now)

	case EventSecondFactorFailed:
		// Failures keep the attempt pending; rate limiting is external.
		if p.State != StateSecondFactorPending {
			return p, nil, ErrInvalidTransition
		}
		return p, nil, nil

	case EventGranted:
		if p.State != StateSecondFactorSatisfied {
			return p, nil, ErrInvalidTransition
		}
		p.State = StateGranted
		return p, []Event{EventGranted}, nil

	case EventDenied:
		p.State = StateDenied
		return p, nil, nil

	default:
		return p, nil, ErrInvalidTransition
	}
}
