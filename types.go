package recoveryflow

import (
	"context"
	"time"

	"github.com/waselportal/recoveryflow/urltoken"
)

// Session defines a public type used by recoveryflow APIs.
//
// Session is the backend-issued authenticated context obtained by token
// exchange or pre-existing login. EmailConfirmedAt is zero for accounts whose
// address has not been verified yet.
type Session struct {
	UserID           string
	Email            string
	EmailConfirmedAt time.Time
	AccessToken      string
	RefreshToken     string
}

// Confirmed describes the confirmed operation and its observable behavior.
func (s *Session) Confirmed() bool {
	return s != nil && !s.EmailConfirmedAt.IsZero()
}

// IdentityBackend defines a public type used by recoveryflow APIs.
//
// IdentityBackend is the external identity service consumed by the flows. The
// transport behind it is opaque to the engine: implementations in
// backend/gotrue (hosted REST service) and backend/local (redis-backed
// reference) are provided, and tests substitute mocks. A nil *Session with a
// nil error from CurrentSession means "no session established".
type IdentityBackend interface {
	ExchangeToken(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	CurrentSession(ctx context.Context) (*Session, error)
	VerifyOTP(ctx context.Context, identifier, code string, purpose urltoken.Kind) (*Session, error)
	UpdateCredential(ctx context.Context, newPassword string) error
	RequestRecovery(ctx context.Context, email, redirectTarget string) error
	ResendVerification(ctx context.Context, email string) error
}

// EmailSource defines a public type used by recoveryflow APIs.
//
// EmailSource supplies the address the OTP flow operates on when the URL
// carries no email parameter. Hosts typically back it with whatever storage
// survives the email round-trip (the web portal uses local storage).
type EmailSource interface {
	LoadEmail() string
	StoreEmail(email string)
	ClearEmail()
}

// NoStoredEmail is an EmailSource that never remembers anything.
type NoStoredEmail struct{}

// LoadEmail describes the loademail operation and its observable behavior.
func (NoStoredEmail) LoadEmail() string { return "" }

// StoreEmail describes the storeemail operation and its observable behavior.
func (NoStoredEmail) StoreEmail(string) {}

// ClearEmail describes the clearemail operation and its observable behavior.
func (NoStoredEmail) ClearEmail() {}
