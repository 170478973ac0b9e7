package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/waselportal/recoveryflow"
	"github.com/waselportal/recoveryflow/urltoken"
)

var errBaseURL = errors.New("base URL is required")

var _ recoveryflow.IdentityBackend = (*Client)(nil)

// Config defines a public type used by gotrue APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	// BaseURL points at the auth endpoint root, e.g.
	// https://project.supabase.co/auth/v1. Required.
	BaseURL string
	// APIKey is sent as the apikey header on every request.
	APIKey string
	// HTTPClient overrides the transport. Defaults to a 10s-timeout client.
	HTTPClient *http.Client
}

// Client defines a public type used by gotrue APIs.
//
// Client implements recoveryflow.IdentityBackend against a GoTrue-compatible
// HTTP identity service. It tracks the most recently established session the
// way a browser client does, so CurrentSession answers without a prior
// token exchange in the same mount.
type Client struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	session *recoveryflow.Session
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{cfg: cfg, http: httpClient}, nil
}

type userPayload struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
}

type tokenPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type errorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
	Code             string `json:"error_code"`
}

func (p *errorPayload) text() string {
	switch {
	case p.Message != "":
		return p.Message
	case p.ErrorDescription != "":
		return p.ErrorDescription
	case p.Error != "":
		return p.Error
	case p.Code != "":
		return p.Code
	default:
		return ""
	}
}

// ExchangeToken describes the exchangetoken operation and its observable behavior.
//
// ExchangeToken may return an error when input validation, dependency calls, or security checks fail.
//
// The access token is validated against /user; a stale one is refreshed
// through the refresh grant first, mirroring how the browser client
// establishes a session from an emailed link.
func (c *Client) ExchangeToken(ctx context.Context, accessToken, refreshToken string) (*recoveryflow.Session, error) {
	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		if refreshToken == "" {
			return nil, err
		}

		refreshed, refreshErr := c.refreshGrant(ctx, refreshToken)
		if refreshErr != nil {
			return nil, err
		}
		session := refreshed.session()
		c.setSession(session)
		return session, nil
	}

	session := sessionFromUser(user, accessToken, refreshToken)
	c.setSession(session)
	return session, nil
}

// CurrentSession describes the currentsession operation and its observable behavior.
//
// CurrentSession may return an error when input validation, dependency calls, or security checks fail.
//
// Without an established session the answer is (nil, nil). With one, /user
// is re-read so out-of-band confirmation becomes visible to pollers.
func (c *Client) CurrentSession(ctx context.Context) (*recoveryflow.Session, error) {
	c.mu.Lock()
	cached := c.session
	c.mu.Unlock()
	if cached == nil {
		return nil, nil
	}

	user, err := c.fetchUser(ctx, cached.AccessToken)
	if err != nil {
		return nil, err
	}

	session := sessionFromUser(user, cached.AccessToken, cached.RefreshToken)
	c.setSession(session)
	return session, nil
}

// VerifyOTP describes the verifyotp operation and its observable behavior.
//
// VerifyOTP may return an error when input validation, dependency calls, or security checks fail.
// VerifyOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) VerifyOTP(ctx context.Context, identifier, code string, purpose urltoken.Kind) (*recoveryflow.Session, error) {
	otpType := "recovery"
	if purpose == urltoken.KindSignup {
		otpType = "signup"
	}

	var payload tokenPayload
	err := c.do(ctx, http.MethodPost, "/verify", "", map[string]string{
		"type":  otpType,
		"email": identifier,
		"token": code,
	}, &payload)
	if err != nil {
		return nil, err
	}

	session := payload.session()
	c.setSession(session)
	return session, nil
}

// UpdateCredential describes the updatecredential operation and its observable behavior.
//
// UpdateCredential may return an error when input validation, dependency calls, or security checks fail.
// UpdateCredential does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) UpdateCredential(ctx context.Context, newPassword string) error {
	c.mu.Lock()
	cached := c.session
	c.mu.Unlock()
	if cached == nil {
		return errors.New("Invalid login credentials")
	}

	return c.do(ctx, http.MethodPut, "/user", cached.AccessToken, map[string]string{
		"password": newPassword,
	}, nil)
}

// RequestRecovery describes the requestrecovery operation and its observable behavior.
//
// RequestRecovery may return an error when input validation, dependency calls, or security checks fail.
// RequestRecovery does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) RequestRecovery(ctx context.Context, email, redirectTarget string) error {
	path := "/recover"
	if redirectTarget != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTarget)
	}
	return c.do(ctx, http.MethodPost, path, "", map[string]string{
		"email": email,
	}, nil)
}

// ResendVerification describes the resendverification operation and its observable behavior.
//
// ResendVerification may return an error when input validation, dependency calls, or security checks fail.
// ResendVerification does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/resend", "", map[string]string{
		"type":  "signup",
		"email": email,
	}, nil)
}

// SignOut describes the signout operation and its observable behavior.
//
// SignOut drops the tracked session. The hosted service keeps its own state.
func (c *Client) SignOut() {
	c.setSession(nil)
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*userPayload, error) {
	var user userPayload
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (*tokenPayload, error) {
	var payload tokenPayload
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The wrapped text keeps the transport failure in the network
		// classification bucket.
		return fmt.Errorf("network request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("network read failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// decodeError surfaces the provider's own message text so the engine's
// classifier sees the same strings the browser client would.
func decodeError(status int, data []byte) error {
	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		if text := payload.text(); text != "" {
			return errors.New(text)
		}
	}
	if status == http.StatusTooManyRequests {
		return errors.New("Too many requests")
	}
	return fmt.Errorf("identity service returned status %d", status)
}

func (p *tokenPayload) session() *recoveryflow.Session {
	return sessionFromUser(&p.User, p.AccessToken, p.RefreshToken)
}

func sessionFromUser(user *userPayload, accessToken, refreshToken string) *recoveryflow.Session {
	session := &recoveryflow.Session{
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if user.EmailConfirmedAt != "" {
		session.EmailConfirmedAt, _ = time.Parse(time.RFC3339, user.EmailConfirmedAt)
	}
	return session
}

func (c *Client) setSession(session *recoveryflow.Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}
