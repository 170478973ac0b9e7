package passwordpolicy

import (
	"strings"
	"unicode"
)

// Requirement defines a public type used by recoveryflow APIs.
//
// Requirement instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Requirement int

const (
	// RequireMinLength is an exported constant or variable used by the verification flow engine.
	RequireMinLength Requirement = iota
	// RequireUppercase is an exported constant or variable used by the verification flow engine.
	RequireUppercase
	// RequireLowercase is an exported constant or variable used by the verification flow engine.
	RequireLowercase
	// RequireDigit is an exported constant or variable used by the verification flow engine.
	RequireDigit
	// RequireConfirmationMatch is an exported constant or variable used by the verification flow engine.
	RequireConfirmationMatch
)

// String describes the string operation and its observable behavior.
func (r Requirement) String() string {
	switch r {
	case RequireMinLength:
		return "min_length"
	case RequireUppercase:
		return "uppercase"
	case RequireLowercase:
		return "lowercase"
	case RequireDigit:
		return "digit"
	case RequireConfirmationMatch:
		return "confirmation_match"
	default:
		return "unknown"
	}
}

// Candidate defines a public type used by recoveryflow APIs.
//
// Candidate is transient input: it is validated and discarded, never persisted.
type Candidate struct {
	Value        string
	Confirmation string
}

// Result defines a public type used by recoveryflow APIs.
//
// Result instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Result struct {
	Valid bool
	Unmet []Requirement
}

// Has describes the has operation and its observable behavior.
func (r Result) Has(req Requirement) bool {
	for _, unmet := range r.Unmet {
		if unmet == req {
			return true
		}
	}
	return false
}

// Policy defines a public type used by recoveryflow APIs.
//
// Policy instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Policy struct {
	MinLength int
}

// Recovery describes the recovery operation and its observable behavior.
//
// Recovery returns the policy applied when resetting an existing credential:
// the full string is validated on submit without keystroke filtering.
func Recovery() Policy {
	return Policy{MinLength: 6}
}

// Signup describes the signup operation and its observable behavior.
//
// Signup returns the stricter account-creation policy. It is paired with
// [FilterScript] so disallowed script ranges never reach the stored value.
func Signup() Policy {
	return Policy{MinLength: 8}
}

// Validate describes the validate operation and its observable behavior.
//
// Validate is pure and idempotent: two calls with the same candidate yield
// identical results, and Valid is true iff Unmet is empty. Forms without a
// confirmation box use [Policy.ValidateValue] instead.
func (p Policy) Validate(c Candidate) Result {
	var unmet []Requirement

	if len(c.Value) < p.MinLength {
		unmet = append(unmet, RequireMinLength)
	}
	if !strings.ContainsFunc(c.Value, unicode.IsUpper) {
		unmet = append(unmet, RequireUppercase)
	}
	if !strings.ContainsFunc(c.Value, unicode.IsLower) {
		unmet = append(unmet, RequireLowercase)
	}
	if !strings.ContainsFunc(c.Value, unicode.IsDigit) {
		unmet = append(unmet, RequireDigit)
	}
	if c.Value != c.Confirmation {
		unmet = append(unmet, RequireConfirmationMatch)
	}

	return Result{Valid: len(unmet) == 0, Unmet: unmet}
}

// ValidateValue describes the validatevalue operation and its observable behavior.
//
// ValidateValue checks strength requirements only, for forms without a
// confirmation field and for live per-requirement indicators.
func (p Policy) ValidateValue(value string) Result {
	return p.Validate(Candidate{Value: value, Confirmation: value})
}

// Unicode blocks excluded from signup-time credential input. The signup form
// filters these per keystroke rather than rejecting on submit.
var excludedScriptRanges = []struct {
	lo, hi rune
}{
	{0x0600, 0x06FF}, // Arabic
	{0x0750, 0x077F}, // Arabic Supplement
	{0x08A0, 0x08FF}, // Arabic Extended-A
	{0xFB50, 0xFDFF}, // Arabic Presentation Forms-A
	{0xFE70, 0xFEFF}, // Arabic Presentation Forms-B
}

// AllowedRune describes the allowedrune operation and its observable behavior.
//
// AllowedRune reports whether a single keystroke may enter a signup-time
// credential field.
func AllowedRune(r rune) bool {
	for _, rng := range excludedScriptRanges {
		if r >= rng.lo && r <= rng.hi {
			return false
		}
	}
	return true
}

// FilterScript describes the filterscript operation and its observable behavior.
//
// FilterScript strips excluded script ranges from an input string. The signup
// form applies it on every change so the stored value never contains excluded
// characters; the recovery form does not filter.
func FilterScript(s string) string {
	if strings.ContainsFunc(s, func(r rune) bool { return !AllowedRune(r) }) {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			if AllowedRune(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return s
}
