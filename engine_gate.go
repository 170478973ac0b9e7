package recoveryflow

import (
	"context"
	"net/url"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/waselportal/recoveryflow/urltoken"
)

// RecoverySession defines a public type used by recoveryflow APIs.
//
// RecoverySession is the authenticated short-lived context a flow operates
// in. It carries the verified email for display and is owned exclusively by
// the gate that produced it: at most one exists per mount, and it is
// destroyed when the enclosing flow unmounts or succeeds terminally.
type RecoverySession struct {
	mu      sync.Mutex
	email   string
	session *Session
}

// Email describes the email operation and its observable behavior.
func (r *RecoverySession) Email() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.email
}

// Session describes the session operation and its observable behavior.
//
// Session returns nil after Destroy.
func (r *RecoverySession) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Destroy describes the destroy operation and its observable behavior.
//
// Destroy drops the backend session reference. Idempotent.
func (r *RecoverySession) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = nil
}

// RecoveryGate defines a public type used by recoveryflow APIs.
//
// RecoveryGate resolves a usable authenticated context, or a terminal error,
// exactly once per mount. It is the single source of truth for "is this link
// usable right now": the resolution is never retried automatically — the only
// retry paths are a fresh navigation or an explicit resend.
type RecoveryGate struct {
	engine   *Engine
	expected urltoken.Kind
	flowID   string

	mu       sync.Mutex
	consumed bool
}

// NewRecoveryGate describes the newrecoverygate operation and its observable behavior.
//
// NewRecoveryGate may return an error when input validation, dependency calls, or security checks fail.
// NewRecoveryGate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) NewRecoveryGate(expected urltoken.Kind) *RecoveryGate {
	return &RecoveryGate{
		engine:   e,
		expected: expected,
		flowID:   uuid.NewString(),
	}
}

// FlowID describes the flowid operation and its observable behavior.
func (g *RecoveryGate) FlowID() string {
	return g.flowID
}

// Resolve describes the resolve operation and its observable behavior.
//
// Resolve may return an error when input validation, dependency calls, or security checks fail.
//
// Error parameters in the URL short-circuit: classification happens before
// any backend call, so an expired-link redirect never triggers an exchange.
// A usable token is exchanged for a session; without one the gate falls back
// to the already-established session (the user navigated here while logged
// in). Absence of both is a terminal "link invalid or expired". A second call
// returns ErrGateConsumed: the gate is bound to a single mount effect, which
// is what makes concurrent exchange attempts impossible.
func (g *RecoveryGate) Resolve(ctx context.Context, location *url.URL) (*RecoverySession, error) {
	if g == nil || g.engine == nil || g.engine.backend == nil {
		return nil, ErrEngineNotReady
	}

	g.mu.Lock()
	if g.consumed {
		g.mu.Unlock()
		return nil, ErrGateConsumed
	}
	g.consumed = true
	g.mu.Unlock()

	engine := g.engine

	token, err := urltoken.Extract(location)
	if err != nil {
		classified := Classify(err)
		engine.metricInc(MetricLinkErrorParam)
		engine.emitAudit(ctx, auditEventTokenExtract, false, g.flowID, "", classified, nil)
		return nil, classified
	}

	if token.Usable(g.expected) {
		return g.exchange(ctx, token)
	}

	return g.reuseSession(ctx, token)
}

func (g *RecoveryGate) exchange(ctx context.Context, token urltoken.Token) (*RecoverySession, error) {
	engine := g.engine
	claimedEmail := peekEmailClaim(token.AccessToken)

	session, err := engine.backend.ExchangeToken(ctx, token.AccessToken, token.RefreshToken)
	if err != nil || session == nil {
		classified := classifyExchangeFailure(err)
		engine.metricInc(MetricExchangeFailure)
		engine.emitAudit(ctx, auditEventGateResolve, false, g.flowID, claimedEmail, classified, func() map[string]string {
			return map[string]string{
				"kind":      token.Kind.String(),
				"transport": token.Transport.String(),
			}
		})
		return nil, classified
	}

	engine.metricInc(MetricTokenExtracted)
	engine.metricInc(MetricExchangeSuccess)
	engine.emitAudit(ctx, auditEventGateResolve, true, g.flowID, session.Email, nil, func() map[string]string {
		return map[string]string{
			"kind":      token.Kind.String(),
			"transport": token.Transport.String(),
			"source":    "exchange",
		}
	})

	return &RecoverySession{email: session.Email, session: session}, nil
}

func (g *RecoveryGate) reuseSession(ctx context.Context, token urltoken.Token) (*RecoverySession, error) {
	engine := g.engine

	session, err := engine.backend.CurrentSession(ctx)
	if err != nil {
		classified := Classify(err)
		engine.metricInc(MetricGateRejected)
		engine.emitAudit(ctx, auditEventGateResolve, false, g.flowID, "", classified, nil)
		return nil, classified
	}
	if session == nil {
		noSession := identityError(CodeUnknown, "link invalid or expired")
		engine.metricInc(MetricGateRejected)
		engine.emitAudit(ctx, auditEventGateResolve, false, g.flowID, "", noSession, func() map[string]string {
			return map[string]string{
				"kind": token.Kind.String(),
			}
		})
		return nil, noSession
	}

	engine.metricInc(MetricSessionReused)
	engine.emitAudit(ctx, auditEventGateResolve, true, g.flowID, session.Email, nil, func() map[string]string {
		return map[string]string{
			"source": "existing_session",
		}
	})

	return &RecoverySession{email: session.Email, session: session}, nil
}

// classifyExchangeFailure maps an exchange rejection to invalid credentials
// unless the backend reported a more specific class.
func classifyExchangeFailure(err error) error {
	if err == nil {
		return identityError(CodeInvalidCredentials, "no session after token exchange")
	}

	classified := Classify(err)
	if identityErr, ok := classified.(*IdentityError); ok && identityErr.Code == CodeUnknown {
		return identityError(CodeInvalidCredentials, identityErr.Raw)
	}
	return classified
}

// peekEmailClaim reads the unverified email claim from a recovery access
// token for audit attribution. The token is never trusted on this path; the
// authoritative email comes from the exchanged session.
func peekEmailClaim(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}
