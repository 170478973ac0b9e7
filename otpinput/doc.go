// Package otpinput manages the six-box one-time-code entry buffer.
//
// # Auto-submit contract
//
// Submission fires exactly once per incomplete→complete transition of the
// buffer. Re-entering the same complete buffer (for example a redundant write
// to an already-filled slot) does not fire again, and a manual submit while an
// auto-submit is in flight is a no-op. A verification failure clears all slots
// and returns focus to the first box, re-arming auto-submit.
//
// # Architecture boundaries
//
// The controller owns slot contents and focus position only. It invokes the
// injected submit callback with the joined code; verifying the code against
// the identity backend is the Engine's job.
//
// # What this package must NOT do
//
//   - Call the identity backend or any network API.
//   - Accept multi-character writes (pastes are rejected wholesale).
//   - Import any other recoveryflow package.
package otpinput
