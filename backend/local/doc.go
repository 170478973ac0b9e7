// Package local is a redis-backed reference implementation of
// recoveryflow.IdentityBackend for development and tests.
//
// It keeps user records, argon2id credential hashes, one-time codes, and
// refresh grants in redis, mints HS256 access tokens, and hands issued codes
// to Config.OnDeliver instead of sending email.
//
// # Architecture boundaries
//
// local depends on recoveryflow for the Session type and backend interface
// only; the flow engines never import it. Nothing here is suitable for
// production identity hosting — it exists so the full recovery and
// verification flows can run end to end without a hosted provider.
//
// # What this package must NOT do
//
//   - Send email or perform any network I/O beyond redis.
//   - Relax the one-code-per-address or attempt-cap rules; flows depend on
//     codes burning exactly once.
package local
