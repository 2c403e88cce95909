package iam

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voiceavatar/agent/internal/config"
)

func iamServer(t *testing.T, status func(n int32) int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != apiKeyGrant {
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
		if code := status(n); code != http.StatusOK {
			w.WriteHeader(code)
			w.Write([]byte(`{"errorMessage":"Provided API key could not be found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-` + r.Form.Get("apikey") + `","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNewAuthenticatorRequiresKey(t *testing.T) {
	_, err := NewAuthenticator("assistant", "", "", nil)
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestTokenIsCached(t *testing.T) {
	srv, hits := iamServer(t, func(int32) int { return http.StatusOK })
	a, err := NewAuthenticator("stt", "key1", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		tok, err := a.Token()
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if tok.AccessToken != "tok-key1" {
			t.Fatalf("unexpected token %q", tok.AccessToken)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("expected 1 exchange, got %d", got)
	}
}

func TestReadyAuthFailureIsFatal(t *testing.T) {
	srv, hits := iamServer(t, func(int32) int { return http.StatusBadRequest })
	a, _ := NewAuthenticator("tts", "bad", srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Ready(ctx)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("auth failure should not be retried, got %d requests", got)
	}
}

func TestReadyRetriesUnavailable(t *testing.T) {
	srv, hits := iamServer(t, func(n int32) int {
		if n < 2 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	a, _ := NewAuthenticator("assistant", "k", srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Ready(ctx); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestReadyDeadline(t *testing.T) {
	srv, _ := iamServer(t, func(int32) int { return http.StatusBadGateway })
	a, _ := NewAuthenticator("assistant", "k", srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Ready(ctx); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestReadyCancelsInFlightExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	a, _ := NewAuthenticator("assistant", "k", srv.URL, &http.Client{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := a.Ready(ctx); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("ready outlived its context: %s", elapsed)
	}
}

func TestReadyUsesCachedToken(t *testing.T) {
	srv, hits := iamServer(t, func(int32) int { return http.StatusOK })
	a, _ := NewAuthenticator("stt", "key1", srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := a.Ready(ctx); err != nil {
			t.Fatalf("ready: %v", err)
		}
	}
	if _, err := a.Token(); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("expected 1 exchange, got %d", got)
	}
}

func TestClientAddsBearer(t *testing.T) {
	tokenSrv, _ := iamServer(t, func(int32) int { return http.StatusOK })
	a, _ := NewAuthenticator("assistant", "abc", tokenSrv.URL, tokenSrv.Client())

	var got string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer api.Close()

	resp, err := a.Client(api.Client()).Get(api.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got != "Bearer tok-abc" {
		t.Fatalf("unexpected authorization header %q", got)
	}
}

func TestStatusErrorKinds(t *testing.T) {
	cases := map[int]error{
		http.StatusUnauthorized:       ErrAuthenticationFailed,
		http.StatusForbidden:          ErrAuthenticationFailed,
		http.StatusServiceUnavailable: ErrServiceUnavailable,
		http.StatusTooManyRequests:    ErrServiceUnavailable,
		http.StatusNotFound:           ErrRequestRejected,
	}
	for code, want := range cases {
		rec := httptest.NewRecorder()
		rec.WriteHeader(code)
		if err := StatusError("x", rec.Result()); !errors.Is(err, want) {
			t.Errorf("status %d: expected %v, got %v", code, want, err)
		}
	}
}
