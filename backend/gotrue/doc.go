// Package gotrue implements recoveryflow.IdentityBackend against a
// GoTrue-compatible HTTP identity service (the API surface behind hosted
// Supabase auth).
//
// The client surfaces the service's own error message text unchanged, so the
// engine's classifier buckets hosted failures exactly as the browser client
// would see them.
//
// # Architecture boundaries
//
// gotrue knows HTTP and the service's JSON shapes, nothing else. Flow logic,
// error classification, and user-facing text all stay in recoveryflow.
//
// # What this package must NOT do
//
//   - Retry, queue, or rate-limit requests; the flows own pacing.
//   - Interpret error semantics beyond decoding the payload text.
package gotrue
