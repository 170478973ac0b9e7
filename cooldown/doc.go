// Package cooldown gates re-issuance of verification emails and codes behind
// a countdown window.
//
// # Window semantics
//
// Start sets the remaining seconds (60 by default) and ticks down once per
// second to a floor of zero. Resending is allowed only at zero with no request
// already in flight. A successful resend restarts the full window; a failed
// one leaves the timer untouched so the user can retry without waiting an
// extra cycle.
//
// # Architecture boundaries
//
// The timer is bound to its owner's lifetime: Stop cancels the ticking
// goroutine synchronously and must be called on unmount. Issuing the actual
// resend request is the Engine's job.
//
// # What this package must NOT do
//
//   - Call the identity backend.
//   - Keep ticking after Stop or after reaching zero.
//   - Import any other recoveryflow package.
package cooldown
