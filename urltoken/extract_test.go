package urltoken

import (
	"errors"
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) failed: %v", raw, err)
	}
	return u
}

func TestExtractQueryRecoveryToken(t *testing.T) {
	u := mustParse(t, "https://portal.example/reset?access_token=at&refresh_token=rt&type=recovery")

	token, err := Extract(u)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if token.AccessToken != "at" || token.RefreshToken != "rt" {
		t.Fatalf("unexpected token fields: %+v", token)
	}
	if token.Kind != KindRecovery {
		t.Fatalf("expected KindRecovery, got %v", token.Kind)
	}
	if token.Transport != TransportQuery {
		t.Fatalf("expected TransportQuery, got %v", token.Transport)
	}
	if !token.Usable(KindRecovery) {
		t.Fatal("expected token to be usable for recovery")
	}
	if token.Usable(KindSignup) {
		t.Fatal("recovery token must not be usable for signup")
	}
}

func TestExtractFragmentMatchesQuery(t *testing.T) {
	// Transport-independence: a grant delivered only in the hash fragment must
	// parse identically to the same grant in the query string.
	fromQuery, err := Extract(mustParse(t, "https://portal.example/reset?access_token=at&refresh_token=rt&type=signup"))
	if err != nil {
		t.Fatalf("Extract(query) failed: %v", err)
	}

	fromFragment, err := Extract(mustParse(t, "https://portal.example/reset#access_token=at&refresh_token=rt&type=signup"))
	if err != nil {
		t.Fatalf("Extract(fragment) failed: %v", err)
	}

	if fromFragment.AccessToken != fromQuery.AccessToken ||
		fromFragment.RefreshToken != fromQuery.RefreshToken ||
		fromFragment.Kind != fromQuery.Kind {
		t.Fatalf("fragment token %+v differs from query token %+v", fromFragment, fromQuery)
	}
	if fromFragment.Transport != TransportFragment {
		t.Fatalf("expected TransportFragment, got %v", fromFragment.Transport)
	}
}

func TestExtractMergesAcrossTransports(t *testing.T) {
	// Field-by-field merge: access token in the query, the rest in the hash.
	u := mustParse(t, "https://portal.example/reset?access_token=at#refresh_token=rt&type=recovery")

	token, err := Extract(u)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !token.Usable(KindRecovery) {
		t.Fatalf("merged token not usable: %+v", token)
	}
	if token.Transport != TransportQuery {
		t.Fatalf("query contribution should win transport attribution, got %v", token.Transport)
	}
}

func TestExtractQueryValuesWinOverFragment(t *testing.T) {
	u := mustParse(t, "https://portal.example/reset?access_token=q-at&refresh_token=q-rt&type=recovery#access_token=f-at&refresh_token=f-rt&type=signup")

	token, err := Extract(u)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if token.AccessToken != "q-at" || token.RefreshToken != "q-rt" || token.Kind != KindRecovery {
		t.Fatalf("query values must win: %+v", token)
	}
}

func TestExtractErrorPriority(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantCode  string
		wantName  string
		transport Transport
	}{
		{
			name:      "query error code with tokens present",
			raw:       "https://portal.example/reset?error_code=otp_expired&access_token=at&refresh_token=rt&type=recovery",
			wantCode:  "otp_expired",
			transport: TransportQuery,
		},
		{
			name:      "fragment error name with tokens present",
			raw:       "https://portal.example/reset#error=access_denied&error_description=Email+link+is+invalid&access_token=at&refresh_token=rt",
			wantName:  "access_denied",
			transport: TransportFragment,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := Extract(mustParse(t, tc.raw))
			if err == nil {
				t.Fatalf("expected provider error, got token %+v", token)
			}

			var provErr *ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if tc.wantCode != "" && provErr.Code != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, provErr.Code)
			}
			if tc.wantName != "" && provErr.Name != tc.wantName {
				t.Fatalf("expected name %q, got %q", tc.wantName, provErr.Name)
			}
			if provErr.Transport != tc.transport {
				t.Fatalf("expected transport %v, got %v", tc.transport, provErr.Transport)
			}
			if token.AccessToken != "" || token.RefreshToken != "" {
				t.Fatal("error result must never carry token material")
			}
		})
	}
}

func TestExtractNoGrantSignalsSessionCheck(t *testing.T) {
	for _, raw := range []string{
		"https://portal.example/reset",
		"https://portal.example/reset?access_token=at",
		"https://portal.example/reset#refresh_token=rt",
		"https://portal.example/reset?utm_source=email",
	} {
		token, err := Extract(mustParse(t, raw))
		if err != nil {
			t.Fatalf("Extract(%q) failed: %v", raw, err)
		}
		if token.Transport != TransportNone {
			t.Fatalf("Extract(%q): expected TransportNone, got %v", raw, token.Transport)
		}
		if token.Usable(KindRecovery) || token.Usable(KindSignup) {
			t.Fatalf("Extract(%q): incomplete grant must not be usable", raw)
		}
	}
}

func TestExtractUnknownType(t *testing.T) {
	token, err := Extract(mustParse(t, "https://portal.example/reset?access_token=at&refresh_token=rt&type=magiclink"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if token.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown, got %v", token.Kind)
	}
	if token.Usable(KindRecovery) {
		t.Fatal("unknown-kind token must not be usable for recovery")
	}
}

func TestExtractNilURL(t *testing.T) {
	token, err := Extract(nil)
	if err != nil {
		t.Fatalf("Extract(nil) failed: %v", err)
	}
	if token.Transport != TransportNone {
		t.Fatalf("expected TransportNone for nil URL, got %v", token.Transport)
	}
}
