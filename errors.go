package recoveryflow

import (
	"context"
	"errors"
	"strings"

	"github.com/waselportal/recoveryflow/urltoken"
)

var (
	// ErrOTPExpired is an exported constant or variable used by the verification flow engine.
	ErrOTPExpired = errors.New("recovery link or code expired")
	// ErrAccessDenied is an exported constant or variable used by the verification flow engine.
	ErrAccessDenied = errors.New("provider rejected the token exchange")
	// ErrInvalidCredentials is an exported constant or variable used by the verification flow engine.
	ErrInvalidCredentials = errors.New("invalid credentials or code")
	// ErrEmailNotConfirmed is an exported constant or variable used by the verification flow engine.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrRateLimited is an exported constant or variable used by the verification flow engine.
	ErrRateLimited = errors.New("too many attempts")
	// ErrSignupDisabled is an exported constant or variable used by the verification flow engine.
	ErrSignupDisabled = errors.New("signup disabled")
	// ErrNetworkFailure is an exported constant or variable used by the verification flow engine.
	ErrNetworkFailure = errors.New("identity backend unreachable")
	// ErrDNSFailure is an exported constant or variable used by the verification flow engine.
	ErrDNSFailure = errors.New("identity backend host not resolvable")
	// ErrConfigMissing is an exported constant or variable used by the verification flow engine.
	ErrConfigMissing = errors.New("identity backend configuration missing")
	// ErrUnknown is an exported constant or variable used by the verification flow engine.
	ErrUnknown = errors.New("identity backend error")
	// ErrEngineNotReady is an exported constant or variable used by the verification flow engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrFlowClosed is an exported constant or variable used by the verification flow engine.
	ErrFlowClosed = errors.New("flow already closed")
	// ErrGateConsumed is an exported constant or variable used by the verification flow engine.
	ErrGateConsumed = errors.New("recovery gate already resolved")
	// ErrOperationInFlight is an exported constant or variable used by the verification flow engine.
	ErrOperationInFlight = errors.New("a backend operation is already in flight")
	// ErrResendCooldown is an exported constant or variable used by the verification flow engine.
	ErrResendCooldown = errors.New("resend cooldown active")
	// ErrNoEmail is an exported constant or variable used by the verification flow engine.
	ErrNoEmail = errors.New("no email address available for this flow")
	// ErrPasswordPolicy is an exported constant or variable used by the verification flow engine.
	ErrPasswordPolicy = errors.New("password policy violation")
)

// ErrorCode defines a public type used by recoveryflow APIs.
//
// ErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ErrorCode int

const (
	// CodeUnknown is an exported constant or variable used by the verification flow engine.
	CodeUnknown ErrorCode = iota
	// CodeOTPExpired is an exported constant or variable used by the verification flow engine.
	CodeOTPExpired
	// CodeAccessDenied is an exported constant or variable used by the verification flow engine.
	CodeAccessDenied
	// CodeInvalidCredentials is an exported constant or variable used by the verification flow engine.
	CodeInvalidCredentials
	// CodeEmailNotConfirmed is an exported constant or variable used by the verification flow engine.
	CodeEmailNotConfirmed
	// CodeRateLimited is an exported constant or variable used by the verification flow engine.
	CodeRateLimited
	// CodeSignupDisabled is an exported constant or variable used by the verification flow engine.
	CodeSignupDisabled
	// CodeNetworkFailure is an exported constant or variable used by the verification flow engine.
	CodeNetworkFailure
	// CodeDNSFailure is an exported constant or variable used by the verification flow engine.
	CodeDNSFailure
	// CodeConfigMissing is an exported constant or variable used by the verification flow engine.
	CodeConfigMissing
)

// String describes the string operation and its observable behavior.
func (c ErrorCode) String() string {
	switch c {
	case CodeOTPExpired:
		return "otp_expired"
	case CodeAccessDenied:
		return "access_denied"
	case CodeInvalidCredentials:
		return "invalid_credentials"
	case CodeEmailNotConfirmed:
		return "email_not_confirmed"
	case CodeRateLimited:
		return "rate_limited"
	case CodeSignupDisabled:
		return "signup_disabled"
	case CodeNetworkFailure:
		return "network_failure"
	case CodeDNSFailure:
		return "dns_failure"
	case CodeConfigMissing:
		return "config_missing"
	default:
		return "unknown"
	}
}

func (c ErrorCode) sentinel() error {
	switch c {
	case CodeOTPExpired:
		return ErrOTPExpired
	case CodeAccessDenied:
		return ErrAccessDenied
	case CodeInvalidCredentials:
		return ErrInvalidCredentials
	case CodeEmailNotConfirmed:
		return ErrEmailNotConfirmed
	case CodeRateLimited:
		return ErrRateLimited
	case CodeSignupDisabled:
		return ErrSignupDisabled
	case CodeNetworkFailure:
		return ErrNetworkFailure
	case CodeDNSFailure:
		return ErrDNSFailure
	case CodeConfigMissing:
		return ErrConfigMissing
	default:
		return ErrUnknown
	}
}

// Infrastructure reports whether the code is an infrastructure-class failure,
// distinguished only for diagnostic logging.
func (c ErrorCode) Infrastructure() bool {
	return c == CodeNetworkFailure || c == CodeDNSFailure || c == CodeConfigMissing
}

// IdentityError defines a public type used by recoveryflow APIs.
//
// IdentityError normalizes a backend or provider failure. Raw carries the
// backend-specific message for audit logging; for CodeUnknown it is never
// rendered verbatim to the end user. Constructed once per failed operation
// and immutable afterwards.
type IdentityError struct {
	Code ErrorCode
	Raw  string
}

// Error describes the error operation and its observable behavior.
func (e *IdentityError) Error() string {
	if e.Raw == "" {
		return e.Code.sentinel().Error()
	}
	return e.Code.String() + ": " + e.Raw
}

// Unwrap describes the unwrap operation and its observable behavior.
//
// Unwrap maps the code to its sentinel so errors.Is(err, ErrOTPExpired) and
// friends work across the package boundary.
func (e *IdentityError) Unwrap() error {
	return e.Code.sentinel()
}

// UserMessage describes the usermessage operation and its observable behavior.
//
// UserMessage returns the one concise end-user string for this failure class.
// Infrastructure failures share a single generic text so configuration detail
// never leaks; the unknown bucket gets the most generic text possible.
func (e *IdentityError) UserMessage() string {
	switch e.Code {
	case CodeOTPExpired:
		return "The link or code has expired. Please request a new one."
	case CodeAccessDenied:
		return "Access denied. Please request a new link."
	case CodeInvalidCredentials:
		return "Invalid code or credentials. Please check and try again."
	case CodeEmailNotConfirmed:
		return "Please confirm your email address first."
	case CodeRateLimited:
		return "Too many attempts. Please try again later."
	case CodeSignupDisabled:
		return "Sign-up is currently disabled."
	case CodeNetworkFailure, CodeDNSFailure, CodeConfigMissing:
		return "Connection problem. Please check your internet connection and try again."
	default:
		return "An error occurred. Please try again."
	}
}

// Retryable describes the retryable operation and its observable behavior.
//
// Retryable reports whether the UI should offer an immediate retry control.
// Rate-limited failures deliberately hide it.
func (e *IdentityError) Retryable() bool {
	return e.Code != CodeRateLimited
}

func identityError(code ErrorCode, raw string) *IdentityError {
	return &IdentityError{Code: code, Raw: raw}
}

// Classify describes the classify operation and its observable behavior.
//
// Classify converts any backend failure into an [*IdentityError]. Already
// classified errors and context cancellation pass through untouched. Anything
// else is bucketed by the provider's message conventions; substring order
// matters: the DNS marker carries no network keyword, and "expired" must win
// over "invalid" for stale codes.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var identityErr *IdentityError
	if errors.As(err, &identityErr) {
		return identityErr
	}

	var providerErr *urltoken.ProviderError
	if errors.As(err, &providerErr) {
		return classifyProviderParams(providerErr)
	}

	return classifyMessage(err.Error())
}

// classifyProviderParams maps the error parameters echoed in a redirect URL.
func classifyProviderParams(provErr *urltoken.ProviderError) *IdentityError {
	raw := provErr.Code
	if raw == "" {
		raw = provErr.Name
	}
	if provErr.Description != "" {
		raw += ": " + provErr.Description
	}

	switch {
	case provErr.Code == "otp_expired":
		return identityError(CodeOTPExpired, raw)
	case provErr.Name == "access_denied":
		return identityError(CodeAccessDenied, raw)
	default:
		return identityError(CodeUnknown, raw)
	}
}

func classifyMessage(message string) *IdentityError {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(message, "ERR_NAME_NOT_RESOLVED"):
		return identityError(CodeDNSFailure, message)
	case strings.Contains(lower, "dummy"), strings.Contains(lower, "environment"):
		return identityError(CodeConfigMissing, message)
	case strings.Contains(lower, "failed to fetch"),
		strings.Contains(lower, "fetch"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "timeout"):
		return identityError(CodeNetworkFailure, message)
	case strings.Contains(lower, "expired"):
		return identityError(CodeOTPExpired, message)
	case strings.Contains(message, "Email not confirmed"),
		strings.Contains(lower, "email_not_confirmed"):
		return identityError(CodeEmailNotConfirmed, message)
	case strings.Contains(message, "Too many requests"),
		strings.Contains(lower, "rate_limit"):
		return identityError(CodeRateLimited, message)
	case strings.Contains(lower, "signup_disabled"),
		strings.Contains(message, "Signups not allowed"):
		return identityError(CodeSignupDisabled, message)
	case strings.Contains(message, "Invalid login credentials"),
		strings.Contains(lower, "invalid_credentials"),
		strings.Contains(lower, "invalid"):
		return identityError(CodeInvalidCredentials, message)
	case strings.Contains(lower, "access_denied"),
		strings.Contains(lower, "access denied"):
		return identityError(CodeAccessDenied, message)
	default:
		return identityError(CodeUnknown, message)
	}
}
