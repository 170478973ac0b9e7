package urltoken

import (
	"net/url"
	"strings"
)

// Query/fragment parameter names used by the identity provider's redirect styles.
const (
	paramAccessToken      = "access_token"
	paramRefreshToken     = "refresh_token"
	paramType             = "type"
	paramError            = "error"
	paramErrorCode        = "error_code"
	paramErrorDescription = "error_description"
)

// Kind defines a public type used by recoveryflow APIs.
//
// Kind instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Kind int

const (
	// KindUnknown is an exported constant or variable used by the verification flow engine.
	KindUnknown Kind = iota
	// KindRecovery is an exported constant or variable used by the verification flow engine.
	KindRecovery
	// KindSignup is an exported constant or variable used by the verification flow engine.
	KindSignup
)

// String describes the string operation and its observable behavior.
func (k Kind) String() string {
	switch k {
	case KindRecovery:
		return "recovery"
	case KindSignup:
		return "signup"
	default:
		return "unknown"
	}
}

// Transport defines a public type used by recoveryflow APIs.
//
// Transport instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Transport int

const (
	// TransportNone is an exported constant or variable used by the verification flow engine.
	TransportNone Transport = iota
	// TransportQuery is an exported constant or variable used by the verification flow engine.
	TransportQuery
	// TransportFragment is an exported constant or variable used by the verification flow engine.
	TransportFragment
)

// String describes the string operation and its observable behavior.
func (t Transport) String() string {
	switch t {
	case TransportQuery:
		return "query"
	case TransportFragment:
		return "fragment"
	default:
		return "none"
	}
}

// Token defines a public type used by recoveryflow APIs.
//
// Token instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Token struct {
	AccessToken  string
	RefreshToken string
	Kind         Kind
	Transport    Transport
}

// Usable describes the usable operation and its observable behavior.
//
// Usable reports whether the token carries both grant halves and matches the
// kind the current flow expects.
func (t Token) Usable(expected Kind) bool {
	return t.AccessToken != "" && t.RefreshToken != "" && t.Kind == expected
}

// ProviderError defines a public type used by recoveryflow APIs.
//
// ProviderError carries the raw error parameters echoed by the identity
// provider. Values are opaque and must be classified before any user-facing
// rendering.
type ProviderError struct {
	Code        string
	Name        string
	Description string
	Transport   Transport
}

// Error describes the error operation and its observable behavior.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return "provider error: " + e.Code
	}
	return "provider error: " + e.Name
}

type fields struct {
	accessToken  string
	refreshToken string
	typ          string
	errName      string
	errCode      string
	errDesc      string
}

func fieldsFrom(values url.Values) fields {
	return fields{
		accessToken:  values.Get(paramAccessToken),
		refreshToken: values.Get(paramRefreshToken),
		typ:          values.Get(paramType),
		errName:      values.Get(paramError),
		errCode:      values.Get(paramErrorCode),
		errDesc:      values.Get(paramErrorDescription),
	}
}

func (f fields) hasError() bool {
	return f.errName != "" || f.errCode != ""
}

// Extract describes the extract operation and its observable behavior.
//
// Extract may return an error when the URL carries provider error parameters;
// the returned error is always a [*ProviderError] in that case.
// Extract does not mutate shared global state and can be used concurrently.
//
// The query string and fragment are inspected in that order. Error parameters
// take priority over token parameters in either transport. Token fields are
// merged field-by-field with query values winning, so grants split across the
// two transports remain usable. A URL with no usable grant yields a zero Token
// with TransportNone, signaling "check for an existing session instead."
func Extract(u *url.URL) (Token, error) {
	if u == nil {
		return Token{Transport: TransportNone}, nil
	}

	query := fieldsFrom(u.Query())
	if query.hasError() {
		return Token{}, &ProviderError{
			Code:        query.errCode,
			Name:        query.errName,
			Description: query.errDesc,
			Transport:   TransportQuery,
		}
	}

	frag := fieldsFrom(parseFragment(u.Fragment))
	if frag.hasError() {
		return Token{}, &ProviderError{
			Code:        frag.errCode,
			Name:        frag.errName,
			Description: frag.errDesc,
			Transport:   TransportFragment,
		}
	}

	merged := query
	transport := TransportQuery
	if merged.accessToken == "" {
		merged.accessToken = frag.accessToken
	}
	if merged.refreshToken == "" {
		merged.refreshToken = frag.refreshToken
	}
	if merged.typ == "" {
		merged.typ = frag.typ
	}
	if query.accessToken == "" && query.refreshToken == "" && query.typ == "" {
		transport = TransportFragment
	}

	if merged.accessToken == "" || merged.refreshToken == "" {
		return Token{Transport: TransportNone}, nil
	}

	return Token{
		AccessToken:  merged.accessToken,
		RefreshToken: merged.refreshToken,
		Kind:         kindFromType(merged.typ),
		Transport:    transport,
	}, nil
}

// parseFragment treats the hash fragment as its own query string. A leading
// "#" is tolerated for callers that pass the raw fragment including the
// delimiter.
func parseFragment(fragment string) url.Values {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return url.Values{}
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}

func kindFromType(typ string) Kind {
	switch typ {
	case "recovery":
		return KindRecovery
	case "signup":
		return KindSignup
	default:
		return KindUnknown
	}
}
