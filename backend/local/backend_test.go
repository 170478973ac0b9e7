package local

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/waselportal/recoveryflow"
	"github.com/waselportal/recoveryflow/urltoken"
)

type codeCapture struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCodeCapture() *codeCapture {
	return &codeCapture{codes: map[string]string{}}
}

func (c *codeCapture) deliver(email, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[email] = code
}

func (c *codeCapture) last(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[email]
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestBackend(t *testing.T, mutate func(*Config)) (*Backend, *codeCapture, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	capture := newCodeCapture()

	cfg := Config{
		SigningKey: []byte("test-signing-key"),
		OnDeliver:  capture.deliver,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	backend, err := New(rdb, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return backend, capture, mr
}

func TestRecoveryCodeRoundTrip(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", "https://portal.test/reset"); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}

	code := capture.last("alice@example.com")
	if len(code) != codeDigits {
		t.Fatalf("delivered code %q, want %d digits", code, codeDigits)
	}

	session, err := backend.VerifyOTP(ctx, "alice@example.com", code, urltoken.KindRecovery)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if session.Email != "alice@example.com" || session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("incomplete session %+v", session)
	}
	if !session.Confirmed() {
		t.Fatal("registered-confirmed user must yield a confirmed session")
	}

	// A code burns on use.
	if _, err := backend.VerifyOTP(ctx, "alice@example.com", code, urltoken.KindRecovery); err == nil {
		t.Fatal("a consumed code must not verify again")
	}
}

func TestWrongCodeClassification(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}

	_, err := backend.VerifyOTP(ctx, "alice@example.com", "000000", urltoken.KindRecovery)
	if err == nil {
		t.Fatal("wrong code must be rejected")
	}
	if !errors.Is(recoveryflow.Classify(err), recoveryflow.ErrOTPExpired) {
		t.Fatalf("classification = %v, want ErrOTPExpired bucket", recoveryflow.Classify(err))
	}

	// The right code still works afterwards, attempts permitting.
	if _, err := backend.VerifyOTP(ctx, "alice@example.com", capture.last("alice@example.com"), urltoken.KindRecovery); err != nil {
		t.Fatalf("correct code after one miss failed: %v", err)
	}
}

func TestCodeAttemptCap(t *testing.T) {
	backend, _, _ := newTestBackend(t, func(cfg *Config) {
		cfg.MaxCodeAttempts = 2
	})
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := backend.VerifyOTP(ctx, "alice@example.com", "000000", urltoken.KindRecovery); err == nil {
			t.Fatal("wrong code must be rejected")
		}
	}

	_, err := backend.VerifyOTP(ctx, "alice@example.com", "000001", urltoken.KindRecovery)
	if !errors.Is(recoveryflow.Classify(err), recoveryflow.ErrRateLimited) {
		t.Fatalf("over-cap classification = %v, want ErrRateLimited bucket", recoveryflow.Classify(err))
	}
}

func TestResendWindowLimitsRequests(t *testing.T) {
	backend, _, _ := newTestBackend(t, func(cfg *Config) {
		cfg.MaxResends = 2
	})
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	err := backend.RequestRecovery(ctx, "alice@example.com", "")
	if !errors.Is(recoveryflow.Classify(err), recoveryflow.ErrRateLimited) {
		t.Fatalf("over-window classification = %v, want ErrRateLimited bucket", recoveryflow.Classify(err))
	}
}

func TestRecoveryForUnknownAddressIsSilent(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)

	if err := backend.RequestRecovery(context.Background(), "nobody@example.com", ""); err != nil {
		t.Fatalf("unknown address must not error: %v", err)
	}
	if capture.last("nobody@example.com") != "" {
		t.Fatal("no code may be issued for an unknown address")
	}
}

func TestExchangeTokenRoundTrip(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	minted, err := backend.VerifyOTP(ctx, "alice@example.com", capture.last("alice@example.com"), urltoken.KindRecovery)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if err := backend.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if session, err := backend.CurrentSession(ctx); err != nil || session != nil {
		t.Fatalf("expected no session after sign-out, got %v, %v", session, err)
	}

	// The refresh grant was revoked with the session.
	if _, err := backend.ExchangeToken(ctx, minted.AccessToken, minted.RefreshToken); err == nil {
		t.Fatal("revoked refresh grant must not exchange")
	}
}

func TestExchangeTokenValidation(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	minted, err := backend.VerifyOTP(ctx, "alice@example.com", capture.last("alice@example.com"), urltoken.KindRecovery)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	session, err := backend.ExchangeToken(ctx, minted.AccessToken, minted.RefreshToken)
	if err != nil {
		t.Fatalf("ExchangeToken failed: %v", err)
	}
	if session.Email != "alice@example.com" {
		t.Fatalf("session email = %q", session.Email)
	}

	if _, err := backend.ExchangeToken(ctx, "garbage", minted.RefreshToken); err == nil {
		t.Fatal("garbage access token must not exchange")
	}
	if _, err := backend.ExchangeToken(ctx, minted.AccessToken, "not-a-grant"); err == nil {
		t.Fatal("unknown refresh grant must not exchange")
	}
}

func TestUpdateCredentialRequiresSession(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)
	ctx := context.Background()

	if err := backend.UpdateCredential(ctx, "NewPw123"); err == nil {
		t.Fatal("credential update without a session must fail")
	}

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	if _, err := backend.VerifyOTP(ctx, "alice@example.com", capture.last("alice@example.com"), urltoken.KindRecovery); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if err := backend.UpdateCredential(ctx, "NewPw123"); err != nil {
		t.Fatalf("UpdateCredential failed: %v", err)
	}

	user, err := backend.loadUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("loadUser failed: %v", err)
	}
	ok, err := backend.hasher.Verify("NewPw123", user.Hash)
	if err != nil || !ok {
		t.Fatalf("new credential must verify, got %v, %v", ok, err)
	}
}

func TestSignupCodeConfirmsEmail(t *testing.T) {
	backend, capture, _ := newTestBackend(t, nil)
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "bob@example.com", "SignupPw1", false); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.ResendVerification(ctx, "bob@example.com"); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}

	session, err := backend.VerifyOTP(ctx, "bob@example.com", capture.last("bob@example.com"), urltoken.KindSignup)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !session.Confirmed() {
		t.Fatal("signup verification must confirm the email")
	}

	// A recovery-purpose consume must not accept a signup code.
	if err := backend.ResendVerification(ctx, "bob@example.com"); err != nil {
		t.Fatalf("second ResendVerification failed: %v", err)
	}
	if _, err := backend.VerifyOTP(ctx, "bob@example.com", capture.last("bob@example.com"), urltoken.KindRecovery); err == nil {
		t.Fatal("purpose mismatch must be rejected")
	}
}

func TestCodeExpiryUsesRedisTTL(t *testing.T) {
	backend, capture, mr := newTestBackend(t, func(cfg *Config) {
		cfg.CodeTTL = time.Minute
	})
	ctx := context.Background()

	if err := backend.RegisterUser(ctx, "alice@example.com", "OldPw123", true); err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if err := backend.RequestRecovery(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, err := backend.VerifyOTP(ctx, "alice@example.com", capture.last("alice@example.com"), urltoken.KindRecovery)
	if !errors.Is(recoveryflow.Classify(err), recoveryflow.ErrOTPExpired) {
		t.Fatalf("expired code classification = %v, want ErrOTPExpired bucket", recoveryflow.Classify(err))
	}
}
