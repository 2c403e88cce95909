package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"voiceavatar/agent/internal/config"
)

const apiKeyGrant = "urn:ibm:params:oauth:grant-type:apikey"

// Authenticator exchanges an IBM Cloud API key for bearer tokens. Tokens are
// cached and refreshed shortly before expiry.
type Authenticator struct {
	service string
	apiKey  string
	raw     *tokenSource

	mu   sync.Mutex
	src  oauth2.TokenSource
	last *oauth2.Token
}

// NewAuthenticator returns an authenticator for one service. An empty apiKey
// is a configuration error.
func NewAuthenticator(service, apiKey, tokenURL string, httpc *http.Client) (*Authenticator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key is empty", config.ErrConfiguration, service)
	}
	if tokenURL == "" {
		tokenURL = config.DefaultIAMURL
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	raw := &tokenSource{service: service, apiKey: apiKey, url: tokenURL, httpc: httpc}
	return &Authenticator{
		service: service,
		apiKey:  apiKey,
		raw:     raw,
		src:     oauth2.ReuseTokenSource(nil, raw),
	}, nil
}

func (a *Authenticator) Service() string { return a.service }

// CanAuthenticate reports whether credentials are present.
func (a *Authenticator) CanAuthenticate() bool { return a.apiKey != "" }

func (a *Authenticator) Token() (*oauth2.Token, error) {
	a.mu.Lock()
	src := a.src
	a.mu.Unlock()
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.last = tok
	a.mu.Unlock()
	return tok, nil
}

func (a *Authenticator) TokenSource() oauth2.TokenSource { return a }

// tokenContext returns the cached token while valid. Otherwise it exchanges
// the key bound to ctx and reseeds the cache.
func (a *Authenticator) tokenContext(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	if last.Valid() {
		return last, nil
	}
	tok, err := a.raw.exchange(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.last = tok
	a.src = oauth2.ReuseTokenSource(tok, a.raw)
	a.mu.Unlock()
	return tok, nil
}

// Ready blocks until a token has been obtained. Rejected credentials return
// ErrAuthenticationFailed at once; other failures are retried with backoff
// until ctx ends.
func (a *Authenticator) Ready(ctx context.Context) error {
	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		_, err := a.tokenContext(ctx)
		if err == nil {
			metricReadyMs.WithLabelValues(a.service).Observe(float64(time.Since(start).Milliseconds()))
			log.Printf("[iam] %s ready after %d attempt(s)", a.service, attempt+1)
			return nil
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s not ready: %v", ErrServiceUnavailable, a.service, lastErr)
		}
		log.Printf("[iam] %s token attempt=%d failed: %v", a.service, attempt+1, err)
		if serr := Sleep(ctx, Backoff(attempt)); serr != nil {
			return fmt.Errorf("%w: %s not ready: %v", ErrServiceUnavailable, a.service, lastErr)
		}
	}
}

// Client wraps base so every request carries a bearer token.
func (a *Authenticator) Client(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: a, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}

type tokenSource struct {
	service string
	apiKey  string
	url     string
	httpc   *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	return s.exchange(context.Background())
}

func (s *tokenSource) exchange(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", apiKeyGrant)
	form.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: iam request build: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		metricTokenRequests.WithLabelValues(s.service, "transport").Inc()
		return nil, fmt.Errorf("%w: iam: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// IAM answers a bad key with 400.
		if resp.StatusCode == http.StatusBadRequest {
			resp.StatusCode = http.StatusUnauthorized
		}
		err := StatusError("iam", resp)
		metricTokenRequests.WithLabelValues(s.service, "rejected").Inc()
		return nil, err
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		metricTokenRequests.WithLabelValues(s.service, "decode").Inc()
		return nil, fmt.Errorf("%w: iam decode: %v", ErrServiceUnavailable, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: iam returned empty token", ErrServiceUnavailable)
	}
	metricTokenRequests.WithLabelValues(s.service, "ok").Inc()

	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: "Bearer"}
	switch {
	case tr.Expiration > 0:
		tok.Expiry = time.Unix(tr.Expiration, 0)
	case tr.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
