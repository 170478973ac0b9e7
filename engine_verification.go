package recoveryflow

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/waselportal/recoveryflow/cooldown"
	"github.com/waselportal/recoveryflow/urltoken"
)

// VerificationState defines a public type used by recoveryflow APIs.
//
// VerificationState instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type VerificationState uint8

const (
	// VerificationPending is an exported constant or variable used by the verification flow engine.
	VerificationPending VerificationState = iota
	// VerificationVerifying is an exported constant or variable used by the verification flow engine.
	VerificationVerifying
	// VerificationSuccess is an exported constant or variable used by the verification flow engine.
	VerificationSuccess
	// VerificationError is an exported constant or variable used by the verification flow engine.
	VerificationError
)

// String describes the string operation and its observable behavior.
func (s VerificationState) String() string {
	switch s {
	case VerificationPending:
		return "pending"
	case VerificationVerifying:
		return "verifying"
	case VerificationSuccess:
		return "success"
	case VerificationError:
		return "error"
	default:
		return "invalid"
	}
}

// VerificationHooks defines a public type used by recoveryflow APIs.
//
// VerificationHooks instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type VerificationHooks struct {
	// OnComplete fires exactly once, after the progress animation reaches
	// 100 and the completion delay elapses. The host navigates here.
	OnComplete func()
	// OnStateChange receives every state transition, in order.
	OnStateChange func(VerificationState)
}

// VerificationFlow defines a public type used by recoveryflow APIs.
//
// VerificationFlow drives the email-link confirmation machine:
// Pending -> Verifying -> Success, with Pending -> Error terminal for
// unrecoverable link problems. While Pending it watches the backend session
// for out-of-band confirmation (the user clicked the link in another tab).
// All timers are bound to the flow lifetime: Close stops them synchronously
// and stale in-flight responses are discarded, never applied.
type VerificationFlow struct {
	engine *Engine
	gate   *RecoveryGate
	resend *cooldown.Timer
	hooks  VerificationHooks

	mu           sync.Mutex
	state        VerificationState
	progress     int
	lastErr      error
	email        string
	closed       bool
	started      bool
	completed    bool
	epoch        uint64
	pollStop     chan struct{}
	progressStop chan struct{}
}

// NewVerificationFlow describes the newverificationflow operation and its observable behavior.
//
// NewVerificationFlow may return an error when input validation, dependency calls, or security checks fail.
// NewVerificationFlow does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) NewVerificationFlow(kind urltoken.Kind, hooks VerificationHooks) *VerificationFlow {
	return &VerificationFlow{
		engine: e,
		gate:   e.NewRecoveryGate(kind),
		resend: cooldown.New(cooldown.Config{
			WindowSeconds: e.config.Cooldown.WindowSeconds,
			TickInterval:  e.config.Cooldown.TickInterval,
		}),
		hooks: hooks,
		state: VerificationPending,
	}
}

// FlowID describes the flowid operation and its observable behavior.
func (f *VerificationFlow) FlowID() string {
	return f.gate.FlowID()
}

// Start describes the start operation and its observable behavior.
//
// Start may return an error when input validation, dependency calls, or security checks fail.
//
// Start is the mount step and runs at most once. An error parameter in the
// link, an exchange rejection, or an infrastructure failure is terminal
// Error. A confirmed session (from exchange or already established) begins
// the progress animation. Anything else stays Pending and starts the
// confirmation watch.
func (f *VerificationFlow) Start(ctx context.Context, location *url.URL) error {
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
			// No token and no session yet. Confirmation may still land
			// out-of-band, so this is not terminal.
			f.watchConfirmation(ctx)
			return nil
		}
		f.fail(ctx, err)
		return err
	}

	if email := resolved.Email(); email != "" {
		f.mu.Lock()
		f.email = email
		f.mu.Unlock()
		if f.engine.emailSource != nil {
			f.engine.emailSource.StoreEmail(email)
		}
	}

	if session := resolved.Session(); session != nil && session.Confirmed() {
		f.beginVerifying(ctx)
		return nil
	}

	f.watchConfirmation(ctx)
	return nil
}

// State describes the state operation and its observable behavior.
func (f *VerificationFlow) State() VerificationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Progress describes the progress operation and its observable behavior.
//
// Progress reports the animated 0..100 value while Verifying.
func (f *VerificationFlow) Progress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

// Err describes the err operation and its observable behavior.
func (f *VerificationFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Email describes the email operation and its observable behavior.
func (f *VerificationFlow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

// CanResend describes the canresend operation and its observable behavior.
func (f *VerificationFlow) CanResend() bool {
	return f.resend.CanResend()
}

// ResendRemaining describes the resendremaining operation and its observable behavior.
func (f *VerificationFlow) ResendRemaining() int {
	return f.resend.Remaining()
}

// Resend describes the resend operation and its observable behavior.
//
// Resend may return an error when input validation, dependency calls, or security checks fail.
//
// Resend is suppressed while the cooldown window is open or a resend is
// already in flight. The window restarts only when the backend accepted the
// request; a failed request leaves the timer untouched.
func (f *VerificationFlow) Resend(ctx context.Context) error {
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

	err := Classify(f.engine.backend.ResendVerification(ctx, email))
	f.resend.EndRequest(err == nil)

	f.engine.metricInc(MetricResendRequest)
	if err != nil {
		f.engine.metricInc(MetricResendFailure)
	}
	f.engine.emitAudit(ctx, auditEventResend, err == nil, f.gate.FlowID(), email, err, nil)
	return err
}

// Retry describes the retry operation and its observable behavior.
//
// Retry returns a terminal Error flow to Pending and restarts the
// confirmation watch. It is a no-op in any other state.
func (f *VerificationFlow) Retry(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.state != VerificationError {
		f.mu.Unlock()
		return
	}
	f.state = VerificationPending
	f.lastErr = nil
	f.mu.Unlock()

	f.notifyState(VerificationPending)
	f.watchConfirmation(ctx)
}

// Close describes the close operation and its observable behavior.
//
// Close stops the confirmation watch, the progress animation, and the resend
// cooldown. Responses from calls still in flight are discarded. Idempotent.
func (f *VerificationFlow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.epoch++
	f.stopPollLocked()
	f.stopProgressLocked()
	f.mu.Unlock()

	f.resend.Stop()
}

func (f *VerificationFlow) stopPollLocked() {
	if f.pollStop != nil {
		close(f.pollStop)
		f.pollStop = nil
	}
}

func (f *VerificationFlow) stopProgressLocked() {
	if f.progressStop != nil {
		close(f.progressStop)
		f.progressStop = nil
	}
}

// watchConfirmation starts the out-of-band confirmation poll. The poll stops
// on any terminal state and on Close.
func (f *VerificationFlow) watchConfirmation(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.pollStop != nil || f.state != VerificationPending {
		f.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	f.pollStop = stop
	epoch := f.epoch
	f.mu.Unlock()

	go f.pollLoop(ctx, stop, epoch)
}

func (f *VerificationFlow) pollLoop(ctx context.Context, stop chan struct{}, epoch uint64) {
	ticker := time.NewTicker(f.engine.config.Verification.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			session, err := f.engine.backend.CurrentSession(ctx)
			if err != nil {
				// Transient; stay Pending and keep watching.
				f.engine.metricInc(MetricInfraFailure)
				continue
			}
			if session == nil || !session.Confirmed() {
				continue
			}

			f.mu.Lock()
			if f.closed || f.epoch != epoch || f.state != VerificationPending {
				f.mu.Unlock()
				return
			}
			if session.Email != "" {
				f.email = session.Email
			}
			f.stopPollLocked()
			f.mu.Unlock()

			f.engine.metricInc(MetricPollConfirmed)
			f.engine.emitAudit(ctx, auditEventPollConfirmed, true, f.gate.FlowID(), session.Email, nil, nil)
			f.beginVerifying(ctx)
			return
		}
	}
}

// beginVerifying moves to Verifying and starts the progress animation.
func (f *VerificationFlow) beginVerifying(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.state == VerificationSuccess || f.state == VerificationVerifying {
		f.mu.Unlock()
		return
	}
	f.state = VerificationVerifying
	f.progress = 0
	f.lastErr = nil
	f.stopPollLocked()
	f.stopProgressLocked()
	stop := make(chan struct{})
	f.progressStop = stop
	epoch := f.epoch
	f.mu.Unlock()

	f.engine.emitAudit(ctx, auditEventStateTransition, true, f.gate.FlowID(), f.Email(), nil, func() map[string]string {
		return map[string]string{"state": VerificationVerifying.String()}
	})
	f.notifyState(VerificationVerifying)

	go f.progressLoop(ctx, stop, epoch)
}

func (f *VerificationFlow) progressLoop(ctx context.Context, stop chan struct{}, epoch uint64) {
	cfg := f.engine.config.Verification
	ticker := time.NewTicker(cfg.ProgressTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.closed || f.epoch != epoch || f.state != VerificationVerifying {
				f.mu.Unlock()
				return
			}
			f.progress += cfg.ProgressStep
			if f.progress < 100 {
				f.mu.Unlock()
				continue
			}
			f.progress = 100
			f.mu.Unlock()

			f.settle(ctx, stop, epoch, cfg.CompleteDelay)
			return
		}
	}
}

// settle waits the fixed completion delay, then lands in Success and fires
// the completion callback exactly once.
func (f *VerificationFlow) settle(ctx context.Context, stop chan struct{}, epoch uint64, delay time.Duration) {
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
	if f.closed || f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	f.state = VerificationSuccess
	firstCompletion := !f.completed
	f.completed = true
	f.progressStop = nil
	f.mu.Unlock()

	f.engine.metricInc(MetricFlowCompleted)
	f.engine.emitAudit(ctx, auditEventFlowComplete, true, f.gate.FlowID(), f.Email(), nil, nil)
	f.notifyState(VerificationSuccess)
	if firstCompletion && f.hooks.OnComplete != nil {
		f.hooks.OnComplete()
	}
}

// fail lands in terminal Error with a classified cause.
func (f *VerificationFlow) fail(ctx context.Context, err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = VerificationError
	f.lastErr = err
	f.stopPollLocked()
	f.stopProgressLocked()
	f.mu.Unlock()

	f.engine.emitAudit(ctx, auditEventStateTransition, false, f.gate.FlowID(), f.Email(), err, func() map[string]string {
		return map[string]string{"state": VerificationError.String()}
	})
	f.notifyState(VerificationError)
}

func (f *VerificationFlow) notifyState(state VerificationState) {
	if f.hooks.OnStateChange != nil {
		f.hooks.OnStateChange(state)
	}
}
