// Package urltoken extracts recovery and signup-verification grants from a
// navigation URL.
//
// # Transport forms
//
// Identity providers deliver tokens either in the query string or in the hash
// fragment (parsed as its own query string). Extraction merges both transports
// field-by-field, preferring query-string values, so a grant split across both
// locations is still usable. Provider error parameters always win over token
// parameters because some redirect styles echo both.
//
// # Architecture boundaries
//
// This package is pure parsing: callers inject the URL, nothing reads browser
// or process state. Session exchange, error-message mapping, and flow policy
// belong to the recoveryflow Engine.
//
// # What this package must NOT do
//
//   - Perform network I/O or touch any identity backend.
//   - Log or persist token material.
//   - Import any other recoveryflow package.
package urltoken
