package recoveryflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/waselportal/recoveryflow/cooldown"
	"github.com/waselportal/recoveryflow/otpinput"
	"github.com/waselportal/recoveryflow/passwordpolicy"
	"github.com/waselportal/recoveryflow/urltoken"
)

// OTPState defines a public type used by recoveryflow APIs.
//
// OTPState instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OTPState uint8

const (
	// OTPCodeEntry is an exported constant or variable used by the verification flow engine.
	OTPCodeEntry OTPState = iota
	// OTPPasswordForm is an exported constant or variable used by the verification flow engine.
	OTPPasswordForm
	// OTPSuccess is an exported constant or variable used by the verification flow engine.
	OTPSuccess
)

// String describes the string operation and its observable behavior.
func (s OTPState) String() string {
	switch s {
	case OTPCodeEntry:
		return "code_entry"
	case OTPPasswordForm:
		return "password_form"
	case OTPSuccess:
		return "success"
	default:
		return "invalid"
	}
}

// PasswordPolicyError defines a public type used by recoveryflow APIs.
//
// PasswordPolicyError carries the unmet requirement set from a rejected
// candidate so hosts can render per-requirement feedback.
type PasswordPolicyError struct {
	Result passwordpolicy.Result
}

// Error describes the error operation and its observable behavior.
func (e *PasswordPolicyError) Error() string {
	names := make([]string, 0, len(e.Result.Unmet))
	for _, req := range e.Result.Unmet {
		names = append(names, req.String())
	}
	return fmt.Sprintf("%s: %s", ErrPasswordPolicy.Error(), strings.Join(names, ", "))
}

// Unwrap describes the unwrap operation and its observable behavior.
func (e *PasswordPolicyError) Unwrap() error {
	return ErrPasswordPolicy
}

// OTPHooks defines a public type used by recoveryflow APIs.
//
// OTPHooks instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OTPHooks struct {
	// OnComplete fires exactly once, a fixed delay after a successful
	// credential update. The host closes the modal or navigates here.
	OnComplete func()
	// OnStateChange receives every state transition, in order.
	OnStateChange func(OTPState)
}

// OTPFlow defines a public type used by recoveryflow APIs.
//
// OTPFlow drives the code-based recovery machine:
// CodeEntry -> PasswordForm -> Success. CodeEntry re-enters itself on a wrong
// code with the buffer cleared and a classified error attached. The flow owns
// at most one outstanding backend call at a time; duplicate submissions while
// one is in flight are rejected, not queued.
type OTPFlow struct {
	engine *Engine
	gate   *RecoveryGate
	input  *otpinput.Controller
	resend *cooldown.Timer
	hooks  OTPHooks

	mu        sync.Mutex
	ctx       context.Context
	state     OTPState
	email     string
	lastErr   error
	session   *Session
	busy      bool
	closed    bool
	started   bool
	completed bool
	closeStop chan struct{}
}

// NewOTPFlow describes the newotpflow operation and its observable behavior.
//
// NewOTPFlow may return an error when input validation, dependency calls, or security checks fail.
// NewOTPFlow does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) NewOTPFlow(hooks OTPHooks) *OTPFlow {
	flow := &OTPFlow{
		engine: e,
		gate:   e.NewRecoveryGate(urltoken.KindRecovery),
		resend: cooldown.New(cooldown.Config{
			WindowSeconds: e.config.Cooldown.WindowSeconds,
			TickInterval:  e.config.Cooldown.TickInterval,
		}),
		hooks: hooks,
		state: OTPCodeEntry,
		ctx:   context.Background(),
	}
	flow.input = otpinput.NewController(flow.submitCode)
	return flow
}

// FlowID describes the flowid operation and its observable behavior.
func (f *OTPFlow) FlowID() string {
	return f.gate.FlowID()
}

// Input describes the input operation and its observable behavior.
//
// Input exposes the six-box controller the host feeds keystrokes into. A
// completed buffer auto-submits through this flow.
func (f *OTPFlow) Input() *otpinput.Controller {
	return f.input
}

// Start describes the start operation and its observable behavior.
//
// Start may return an error when input validation, dependency calls, or security checks fail.
//
// Start is the mount step and runs at most once. A usable recovery token in
// the link (or an already-established session) skips code entry and lands
// directly on the password form. A link error or the absence of any grant
// keeps the flow in CodeEntry, where the emailed code takes over.
func (f *OTPFlow) Start(ctx context.Context, location *url.URL) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.started {
		f.mu.Unlock()
		return ErrGateConsumed
	}
	f.started = true
	if ctx != nil {
		f.ctx = ctx
	}
	f.mu.Unlock()

	fromLink := ""
	if location != nil {
		fromLink = location.Query().Get("email")
	}
	if email := f.engine.resolveEmail(fromLink); email != "" {
		f.mu.Lock()
		f.email = email
		f.mu.Unlock()
	}

	resolved, err := f.gate.Resolve(ctx, location)
	if err != nil {
		var idErr *IdentityError
		if errors.As(err, &idErr) && idErr.Code == CodeUnknown {
			// No grant in the link and no session. Normal for the code
			// path: the user types the emailed digits instead.
			return nil
		}
		f.mu.Lock()
		f.lastErr = err
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	if email := resolved.Email(); email != "" {
		f.email = email
	}
	f.session = resolved.Session()
	f.state = OTPPasswordForm
	f.mu.Unlock()

	f.notifyState(OTPPasswordForm)
	return nil
}

// State describes the state operation and its observable behavior.
func (f *OTPFlow) State() OTPState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Email describes the email operation and its observable behavior.
func (f *OTPFlow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

// Err describes the err operation and its observable behavior.
func (f *OTPFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// CanResend describes the canresend operation and its observable behavior.
func (f *OTPFlow) CanResend() bool {
	return f.resend.CanResend()
}

// ResendRemaining describes the resendremaining operation and its observable behavior.
func (f *OTPFlow) ResendRemaining() int {
	return f.resend.Remaining()
}

// submitCode is the controller's auto-submit target. It runs once per
// incomplete-to-complete buffer transition; the controller's armed state
// guarantees the exactly-once property, this side only resolves it.
func (f *OTPFlow) submitCode(code string) {
	f.mu.Lock()
	if f.closed || f.state != OTPCodeEntry || f.busy {
		f.mu.Unlock()
		return
	}
	f.busy = true
	ctx := f.ctx
	email := f.email
	f.mu.Unlock()

	if email == "" {
		f.resolveCode(ctx, email, nil, ErrNoEmail)
		return
	}

	session, err := f.engine.backend.VerifyOTP(ctx, email, code, urltoken.KindRecovery)
	f.resolveCode(ctx, email, session, Classify(err))
}

func (f *OTPFlow) resolveCode(ctx context.Context, email string, session *Session, err error) {
	if err == nil && session == nil {
		err = identityError(CodeInvalidCredentials, "no session after code verification")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.busy = false

	if err != nil {
		f.lastErr = err
		f.mu.Unlock()

		f.engine.metricInc(MetricOTPVerifyFailure)
		f.engine.emitAudit(ctx, auditEventOTPVerify, false, f.gate.FlowID(), email, err, nil)
		f.input.Reject()
		return
	}

	f.lastErr = nil
	f.session = session
	if session.Email != "" {
		f.email = session.Email
	}
	f.state = OTPPasswordForm
	f.mu.Unlock()

	f.engine.metricInc(MetricOTPVerifySuccess)
	f.engine.emitAudit(ctx, auditEventOTPVerify, true, f.gate.FlowID(), email, nil, nil)
	f.input.Accept()
	f.notifyState(OTPPasswordForm)
}

// SubmitPassword describes the submitpassword operation and its observable behavior.
//
// SubmitPassword may return an error when input validation, dependency calls, or security checks fail.
//
// The recovery policy runs first; an unmet requirement set rejects the
// candidate locally and the backend is never called. A backend rejection
// keeps the flow on the password form with a classified error. Success lands
// in Success and schedules the completion callback after the close delay.
func (f *OTPFlow) SubmitPassword(ctx context.Context, candidate passwordpolicy.Candidate) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state != OTPPasswordForm {
		f.mu.Unlock()
		return ErrEngineNotReady
	}
	if f.busy {
		f.mu.Unlock()
		return ErrOperationInFlight
	}
	f.busy = true
	email := f.email
	f.mu.Unlock()

	if result := passwordpolicy.Recovery().Validate(candidate); !result.Valid {
		policyErr := &PasswordPolicyError{Result: result}
		f.mu.Lock()
		f.busy = false
		f.lastErr = policyErr
		f.mu.Unlock()

		f.engine.metricInc(MetricPasswordPolicyRejected)
		return policyErr
	}

	err := Classify(f.engine.backend.UpdateCredential(ctx, candidate.Value))

	f.mu.Lock()
	f.busy = false
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if err != nil {
		f.lastErr = err
		f.mu.Unlock()

		f.engine.metricInc(MetricCredentialUpdateFailure)
		f.engine.emitAudit(ctx, auditEventCredentialUpdate, false, f.gate.FlowID(), email, err, nil)
		return err
	}
	f.lastErr = nil
	f.state = OTPSuccess
	f.mu.Unlock()

	f.engine.metricInc(MetricCredentialUpdateSuccess)
	f.engine.emitAudit(ctx, auditEventCredentialUpdate, true, f.gate.FlowID(), email, nil, nil)
	if f.engine.emailSource != nil {
		f.engine.emailSource.ClearEmail()
	}
	f.notifyState(OTPSuccess)
	f.scheduleClose(ctx)
	return nil
}

// Resend describes the resend operation and its observable behavior.
//
// Resend may return an error when input validation, dependency calls, or security checks fail.
//
// Resend requests a fresh recovery email, gated by the cooldown window. The
// window restarts only when the backend accepted the request.
func (f *OTPFlow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	email := f.email
	f.mu.Unlock()

	if email == "" {
		return ErrNoEmail
	}
	if !f.resend.BeginRequest() {
		f.engine.metricInc(MetricResendSuppressed)
		return ErrResendCooldown
	}

	err := Classify(f.engine.backend.RequestRecovery(ctx, email, f.engine.config.OTPReset.RedirectTarget))
	f.resend.EndRequest(err == nil)

	f.engine.metricInc(MetricResendRequest)
	if err != nil {
		f.engine.metricInc(MetricResendFailure)
	}
	f.engine.emitAudit(ctx, auditEventResend, err == nil, f.gate.FlowID(), email, err, nil)
	return err
}

// Close describes the close operation and its observable behavior.
//
// Close stops the resend cooldown and the pending completion callback and
// drops the session reference. Responses from calls still in flight are
// discarded. Idempotent.
func (f *OTPFlow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.session = nil
	if f.closeStop != nil {
		close(f.closeStop)
		f.closeStop = nil
	}
	f.mu.Unlock()

	f.resend.Stop()
}

// scheduleClose arms the one-shot completion callback after the configured
// delay. Close cancels it.
func (f *OTPFlow) scheduleClose(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.closeStop != nil {
		f.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	f.closeStop = stop
	delay := f.engine.config.OTPReset.CloseDelay
	f.mu.Unlock()

	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		f.mu.Lock()
		if f.closed || f.completed {
			f.mu.Unlock()
			return
		}
		f.completed = true
		f.closeStop = nil
		f.mu.Unlock()

		f.engine.metricInc(MetricFlowCompleted)
		f.engine.emitAudit(ctx, auditEventFlowComplete, true, f.gate.FlowID(), f.Email(), nil, nil)
		if f.hooks.OnComplete != nil {
			f.hooks.OnComplete()
		}
	}()
}

func (f *OTPFlow) notifyState(state OTPState) {
	if f.hooks.OnStateChange != nil {
		f.hooks.OnStateChange(state)
	}
}
