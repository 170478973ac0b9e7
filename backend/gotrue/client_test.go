package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waselportal/recoveryflow"
	"github.com/waselportal/recoveryflow/urltoken"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, APIKey: "anon-key"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestExchangeTokenValidatesAccessToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer at" {
			t.Fatalf("authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Fatalf("apikey = %q", r.Header.Get("apikey"))
		}
		writeJSON(t, w, http.StatusOK, map[string]string{
			"id":                 "u1",
			"email":              "alice@example.com",
			"email_confirmed_at": time.Now().UTC().Format(time.RFC3339),
		})
	}))

	session, err := client.ExchangeToken(context.Background(), "at", "rt")
	if err != nil {
		t.Fatalf("ExchangeToken failed: %v", err)
	}
	if session.Email != "alice@example.com" || !session.Confirmed() {
		t.Fatalf("unexpected session %+v", session)
	}

	// The session is now established for the rest of the mount.
	current, err := client.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if current == nil || current.Email != "alice@example.com" {
		t.Fatalf("unexpected current session %+v", current)
	}
}

func TestExchangeTokenFallsBackToRefreshGrant(t *testing.T) {
	var userCalls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/user":
			userCalls++
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		case r.URL.Path == "/token" && r.URL.Query().Get("grant_type") == "refresh_token":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["refresh_token"] != "rt" {
				t.Fatalf("refresh_token = %q", body["refresh_token"])
			}
			writeJSON(t, w, http.StatusOK, map[string]any{
				"access_token":  "fresh-at",
				"refresh_token": "fresh-rt",
				"user": map[string]string{
					"id":    "u1",
					"email": "alice@example.com",
				},
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	session, err := client.ExchangeToken(context.Background(), "stale", "rt")
	if err != nil {
		t.Fatalf("ExchangeToken failed: %v", err)
	}
	if session.AccessToken != "fresh-at" || session.RefreshToken != "fresh-rt" {
		t.Fatalf("unexpected tokens %+v", session)
	}
	if userCalls != 1 {
		t.Fatalf("user calls = %d, want 1", userCalls)
	}
}

func TestCurrentSessionWithoutEstablishedSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a session")
	}))

	session, err := client.CurrentSession(context.Background())
	if err != nil || session != nil {
		t.Fatalf("CurrentSession = %v, %v, want nil, nil", session, err)
	}
}

func TestVerifyOTPSubmitsTypedRequest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["type"] != "recovery" || body["email"] != "alice@example.com" || body["token"] != "123456" {
			t.Fatalf("unexpected body %v", body)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"user": map[string]string{
				"id":    "u1",
				"email": "alice@example.com",
			},
		})
	}))

	session, err := client.VerifyOTP(context.Background(), "alice@example.com", "123456", urltoken.KindRecovery)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if session.Email != "alice@example.com" {
		t.Fatalf("session email = %q", session.Email)
	}
}

func TestProviderErrorTextFeedsClassifier(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]string{
			"msg":        "Token has expired or is invalid",
			"error_code": "otp_expired",
		})
	}))

	_, err := client.VerifyOTP(context.Background(), "alice@example.com", "000000", urltoken.KindRecovery)
	if err == nil {
		t.Fatal("expected a provider error")
	}
	if !errors.Is(recoveryflow.Classify(err), recoveryflow.ErrOTPExpired) {
		t.Fatalf("classification = %v, want ErrOTPExpired bucket", recoveryflow.Classify(err))
	}
}

func TestRateLimitStatusWithoutBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.ResendVerification(context.Background(), "alice@example.com")
	if !errors.Is(recoveryflow.Classify(err), recoveryflow.ErrRateLimited) {
		t.Fatalf("classification = %v, want ErrRateLimited bucket", recoveryflow.Classify(err))
	}
}

func TestTransportFailureClassifiesAsNetwork(t *testing.T) {
	client, err := New(Config{
		BaseURL:    "http://127.0.0.1:1",
		HTTPClient: &http.Client{Timeout: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	reqErr := client.ResendVerification(context.Background(), "alice@example.com")
	if !errors.Is(recoveryflow.Classify(reqErr), recoveryflow.ErrNetworkFailure) {
		t.Fatalf("classification = %v, want ErrNetworkFailure bucket", recoveryflow.Classify(reqErr))
	}
}

func TestRequestRecoveryCarriesRedirectTarget(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recover" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("redirect_to") != "https://portal.test/reset" {
			t.Fatalf("redirect_to = %q", r.URL.Query().Get("redirect_to"))
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.RequestRecovery(context.Background(), "alice@example.com", "https://portal.test/reset"); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
}

func TestUpdateCredentialRequiresSession(t *testing.T) {
	var sawUpdate bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "u1", "email": "alice@example.com"})
		case http.MethodPut:
			sawUpdate = true
			if r.Header.Get("Authorization") != "Bearer at" {
				t.Fatalf("authorization = %q", r.Header.Get("Authorization"))
			}
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "u1"})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))

	if err := client.UpdateCredential(context.Background(), "NewPw123"); err == nil {
		t.Fatal("update without a session must fail")
	}

	if _, err := client.ExchangeToken(context.Background(), "at", "rt"); err != nil {
		t.Fatalf("ExchangeToken failed: %v", err)
	}
	if err := client.UpdateCredential(context.Background(), "NewPw123"); err != nil {
		t.Fatalf("UpdateCredential failed: %v", err)
	}
	if !sawUpdate {
		t.Fatal("expected the PUT /user request")
	}
}
