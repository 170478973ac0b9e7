// Package passwordpolicy validates password strength candidates for the
// recovery and signup flows.
//
// # Policy variants
//
// Two named variants exist on purpose. [Recovery] requires 6 characters and
// validates the full string on submit. [Signup] requires 8 characters and is
// paired with [FilterScript], which strips excluded script ranges at the
// keystroke level so the stored value never contains them. The portal has
// always shipped both; unifying them is a product decision, not a bug fix.
//
// # Architecture boundaries
//
// This package is a pure predicate module. Hashing, persistence, and the
// credential-update call belong elsewhere.
//
// # What this package must NOT do
//
//   - Retain or log candidate values.
//   - Import any other recoveryflow package.
//   - Perform I/O of any kind.
package passwordpolicy
