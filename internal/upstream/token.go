package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	tokenValidity     = 15 * time.Minute
	tokenSafetyMargin = 30 * time.Second

	authenticatePath = "/security/user/authenticate"
)

// Credential is the bearer credential for the manager API. It is replaced
// wholesale on renewal, never partially mutated.
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenSource owns the shared Credential and serializes its renewal. The
// mutex is held across the authenticate call, so N concurrent callers inside
// the expiry margin observe exactly one renewal.
type TokenSource struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	now      func() time.Time

	mu   sync.Mutex
	cred Credential
}

// NewTokenSource creates a token source authenticating against the manager
// at baseURL with the given basic-auth credentials.
func NewTokenSource(baseURL, username, password string, client *http.Client) *TokenSource {
	return &TokenSource{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   client,
		now:      time.Now,
	}
}

// Token returns a valid bearer token, renewing the credential when it is
// absent or within the safety margin of expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.cred.Token != "" && now.Before(ts.cred.ExpiresAt.Add(-tokenSafetyMargin)) {
		return ts.cred.Token, nil
	}

	cred, err := ts.renew(ctx, now)
	if err != nil {
		// The previous (expired) credential stays as-is; the next caller
		// attempts another renewal.
		return "", err
	}
	ts.cred = cred
	return cred.Token, nil
}

// Invalidate drops the current credential so the next Token call renews.
// Used when the manager rejects a token before its bookkept expiry.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.cred = Credential{}
	ts.mu.Unlock()
}

func (ts *TokenSource) renew(ctx context.Context, now time.Time) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+authenticatePath, nil)
	if err != nil {
		return Credential{}, &AuthError{Reason: err.Error()}
	}
	req.SetBasicAuth(ts.username, ts.password)
	req.Header.Set("Accept", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, &AuthError{Reason: fmt.Sprintf("authenticate returned status %d", resp.StatusCode)}
	}

	var body struct {
		Error int `json:"error"`
		Data  struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, &AuthError{Reason: "malformed authenticate response: " + err.Error()}
	}
	if body.Error != 0 || body.Data.Token == "" {
		return Credential{}, &AuthError{Reason: "manager rejected credentials"}
	}

	return Credential{
		Token:     body.Data.Token,
		IssuedAt:  now,
		ExpiresAt: now.Add(tokenValidity),
	}, nil
}
