package passwordpolicy

import (
	"reflect"
	"testing"
)

func TestRecoveryValidate(t *testing.T) {
	policy := Recovery()

	cases := []struct {
		name      string
		candidate Candidate
		valid     bool
		unmet     []Requirement
	}{
		{
			name:      "valid with confirmation",
			candidate: Candidate{Value: "Abc123", Confirmation: "Abc123"},
			valid:     true,
		},
		{
			name:      "too short",
			candidate: Candidate{Value: "Ab1", Confirmation: "Ab1"},
			unmet:     []Requirement{RequireMinLength},
		},
		{
			name:      "missing uppercase",
			candidate: Candidate{Value: "abc123", Confirmation: "abc123"},
			unmet:     []Requirement{RequireUppercase},
		},
		{
			name:      "missing lowercase",
			candidate: Candidate{Value: "ABC123", Confirmation: "ABC123"},
			unmet:     []Requirement{RequireLowercase},
		},
		{
			name:      "missing digit",
			candidate: Candidate{Value: "Abcdef", Confirmation: "Abcdef"},
			unmet:     []Requirement{RequireDigit},
		},
		{
			name:      "confirmation mismatch",
			candidate: Candidate{Value: "Abc123", Confirmation: "Abc124"},
			unmet:     []Requirement{RequireConfirmationMatch},
		},
		{
			name:      "empty value fails everything",
			candidate: Candidate{Value: "", Confirmation: "x"},
			unmet: []Requirement{
				RequireMinLength,
				RequireUppercase,
				RequireLowercase,
				RequireDigit,
				RequireConfirmationMatch,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := policy.Validate(tc.candidate)
			if result.Valid != tc.valid {
				t.Fatalf("Valid = %v, want %v (unmet: %v)", result.Valid, tc.valid, result.Unmet)
			}
			if result.Valid != (len(result.Unmet) == 0) {
				t.Fatal("Valid must be true iff Unmet is empty")
			}
			if !tc.valid && !reflect.DeepEqual(result.Unmet, tc.unmet) {
				t.Fatalf("Unmet = %v, want %v", result.Unmet, tc.unmet)
			}
		})
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	policy := Recovery()
	candidate := Candidate{Value: "Abc123", Confirmation: "Abc124"}

	first := policy.Validate(candidate)
	second := policy.Validate(candidate)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated validation diverged: %+v vs %+v", first, second)
	}
}

func TestSignupMinimumLength(t *testing.T) {
	policy := Signup()

	if result := policy.ValidateValue("Abc1234"); result.Valid {
		t.Fatal("7 characters must fail the signup policy")
	}
	if result := policy.ValidateValue("Abc12345"); !result.Valid {
		t.Fatalf("8 characters should pass, unmet: %v", result.Unmet)
	}
	// The same value passes the looser recovery policy.
	if result := Recovery().ValidateValue("Abc1234"); !result.Valid {
		t.Fatalf("recovery policy should accept 7 characters, unmet: %v", result.Unmet)
	}
}

func TestResultHas(t *testing.T) {
	result := Recovery().Validate(Candidate{Value: "Abc123", Confirmation: "nope1A"})
	if !result.Has(RequireConfirmationMatch) {
		t.Fatal("expected confirmation mismatch in unmet set")
	}
	if result.Has(RequireMinLength) {
		t.Fatal("min length is met, must not be reported")
	}
}

func TestFilterScript(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Abc123", "Abc123"},
		{"Abcمرح123", "Abc123"},
		{"سر", ""},
		{"passﹱword1A", "password1A"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := FilterScript(tc.in); got != tc.want {
			t.Fatalf("FilterScript(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAllowedRune(t *testing.T) {
	if AllowedRune('م') {
		t.Fatal("Arabic letter must be rejected at the keystroke level")
	}
	if !AllowedRune('A') || !AllowedRune('7') || !AllowedRune('!') {
		t.Fatal("Latin letters, digits, and punctuation must be allowed")
	}
}
