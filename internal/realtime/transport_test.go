package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExchangeSDP_Success(t *testing.T) {
	const answer = "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ek_test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/sdp" {
			t.Errorf("unexpected content type %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0\r\noffer" {
			t.Errorf("unexpected offer body %q", body)
		}
		w.Write([]byte(answer))
	}))
	defer srv.Close()

	got, err := exchangeSDP(context.Background(), srv.Client(), srv.URL, "ek_test", "v=0\r\noffer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != answer {
		t.Errorf("expected answer SDP, got %q", got)
	}
}

func TestExchangeSDP_NonOKReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	_, err := exchangeSDP(context.Background(), srv.Client(), srv.URL, "ek_test", "v=0")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.Context != ContextNegotiate {
		t.Errorf("expected negotiate context, got %q", httpErr.Context)
	}
	if !httpErr.IsServerError() {
		t.Error("expected server error classification")
	}
}

func TestHTTPError_AuthClassification(t *testing.T) {
	tests := []struct {
		name string
		err  HTTPError
		auth bool
	}{
		{"401", HTTPError{StatusCode: 401}, true},
		{"403", HTTPError{StatusCode: 403}, true},
		{"body invalid_auth", HTTPError{StatusCode: 400, Body: `{"error":"invalid_auth"}`}, true},
		{"body unauthorized", HTTPError{StatusCode: 500, Body: "Unauthorized access"}, true},
		{"plain 500", HTTPError{StatusCode: 500, Body: "boom"}, false},
		{"429", HTTPError{StatusCode: 429}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsAuthFailure(); got != tt.auth {
				t.Errorf("IsAuthFailure() = %v, want %v", got, tt.auth)
			}
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		model    string
		want     string
	}{
		{
			"https calls endpoint",
			"https://api.openai.com/v1/realtime/calls",
			"gpt-4o-mini-transcribe",
			"wss://api.openai.com/v1/realtime?model=gpt-4o-mini-transcribe",
		},
		{
			"http test endpoint",
			"http://127.0.0.1:8080/v1/realtime",
			"",
			"ws://127.0.0.1:8080/v1/realtime",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := websocketURL(tt.endpoint, tt.model)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
