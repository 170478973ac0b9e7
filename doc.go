// Package recoveryflow provides the credential-recovery and email/OTP
// verification engine behind the account portal: link-token extraction,
// one-shot session gating, the email-confirmation and code-entry state
// machines, resend cooldowns, and password-policy enforcement.
//
// The package is designed for concurrent host workloads: Engine methods and
// the flows they create are safe to call from multiple goroutines after
// initialization through [Builder.Build], though each flow instance models a
// single mount and owns at most one outstanding backend call at a time.
//
// # Architecture boundaries
//
// recoveryflow is the public surface. It exposes [Engine], [Builder],
// [Config], the flow types ([VerificationFlow], [OTPFlow], [RecoveryGate]),
// and the error taxonomy ([IdentityError], sentinel values, [Classify]).
// Pure mechanics live in focused subpackages — urltoken, passwordpolicy,
// otpinput, cooldown — and identity-backend implementations under backend/.
//
// # What this package must NOT do
//
//   - Reach into the identity backend's transport or session internals; the
//     backend is opaque behind [IdentityBackend].
//   - Surface raw backend payloads in user-facing text; only classified
//     messages from [IdentityError.UserMessage] reach display.
//   - Navigate or render. Terminal success is reported through completion
//     callbacks; the host owns all presentation.
//
// # Lifetime contract
//
// Every repeating timer (confirmation poll, progress animation, resend
// cooldown, close delay) is bound to its flow instance. Close stops them
// synchronously, and responses from calls still in flight when a flow closes
// are discarded, never applied.
package recoveryflow
