package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/internal/config"
)

// The user directory is an external collaborator: it owns accounts and the
// primary password credential. This service only consumes its verdicts.

var (
	ErrPrimaryAuthFailed = errors.New("primary credential rejected")
	ErrAccountNotFound   = errors.New("account not found")
	ErrUnavailable       = errors.New("directory unavailable")
)

type Account struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
}

type Client interface {
	// VerifyPassword performs the primary credential check. It returns
	// ErrPrimaryAuthFailed on a wrong identifier/password pair.
	VerifyPassword(ctx context.Context, identifier, password string) (*Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(cfg config.DirectoryConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) VerifyPassword(ctx context.Context, identifier, password string) (*Account, error) {
	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/v1/verify-password", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var account Account
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &account, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, ErrPrimaryAuthFailed
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

func (c *HTTPClient) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/internal/v1/accounts/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var account Account
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &account, nil
	case http.StatusNotFound:
		return nil, ErrAccountNotFound
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
