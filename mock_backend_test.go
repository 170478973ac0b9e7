package recoveryflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/waselportal/recoveryflow/urltoken"
)

// mockBackend is a programmable IdentityBackend for flow tests. Zero value is
// usable: every call succeeds with whatever session fields are configured.
type mockBackend struct {
	mu sync.Mutex

	exchangeSession *Session
	exchangeErr     error
	exchangeCalls   int
	lastAccess      string
	lastRefresh     string

	currentSession *Session
	currentErr     error
	currentCalls   int

	verifySession *Session
	verifyErr     error
	verifyCalls   int
	lastOTPEmail  string
	lastOTPCode   string
	lastOTPKind   urltoken.Kind

	updateErr     error
	updateCalls   int
	lastPassword  string

	recoverErr     error
	recoverCalls   int
	lastRecoverURL string

	resendErr   error
	resendCalls int
	lastResend  string
}

func (m *mockBackend) ExchangeToken(_ context.Context, accessToken, refreshToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeCalls++
	m.lastAccess = accessToken
	m.lastRefresh = refreshToken
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return m.exchangeSession, nil
}

func (m *mockBackend) CurrentSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentCalls++
	if m.currentErr != nil {
		return nil, m.currentErr
	}
	return m.currentSession, nil
}

func (m *mockBackend) VerifyOTP(_ context.Context, identifier, code string, purpose urltoken.Kind) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyCalls++
	m.lastOTPEmail = identifier
	m.lastOTPCode = code
	m.lastOTPKind = purpose
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.verifySession, nil
}

func (m *mockBackend) UpdateCredential(_ context.Context, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	m.lastPassword = newPassword
	return m.updateErr
}

func (m *mockBackend) RequestRecovery(_ context.Context, email, redirectTarget string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverCalls++
	m.lastRecoverURL = redirectTarget
	m.lastResend = email
	return m.recoverErr
}

func (m *mockBackend) ResendVerification(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resendCalls++
	m.lastResend = email
	return m.resendErr
}

func (m *mockBackend) setCurrentSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentSession = s
}

func (m *mockBackend) calls(read func(*mockBackend) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return read(m)
}

// memoryEmailSource is an in-process stand-in for the host's stored email.
type memoryEmailSource struct {
	mu    sync.Mutex
	email string
}

func (s *memoryEmailSource) LoadEmail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email
}

func (s *memoryEmailSource) StoreEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
}

func (s *memoryEmailSource) ClearEmail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = ""
}

// testFlowConfig shrinks every timer so flows settle in milliseconds.
func testFlowConfig() Config {
	cfg := defaultConfig()
	cfg.Verification.PollInterval = 5 * time.Millisecond
	cfg.Verification.ProgressTick = time.Millisecond
	cfg.Verification.CompleteDelay = 5 * time.Millisecond
	cfg.OTPReset.CloseDelay = 5 * time.Millisecond
	cfg.OTPReset.RedirectTarget = "https://portal.test/reset-password"
	cfg.Cooldown.TickInterval = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, backend IdentityBackend, mutate func(*Config)) *Engine {
	t.Helper()

	cfg := testFlowConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().WithBackend(backend).WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
