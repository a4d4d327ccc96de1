package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"securedrop/internal/domain"
)

const turnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// TurnstileVerifier checks Cloudflare Turnstile tokens on upload. It is an
// external collaborator: failures of the challenge map to Forbidden, the
// server never learns anything else about the client.
type TurnstileVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewTurnstileVerifier returns a verifier for the given secret.
func NewTurnstileVerifier(secret string) *TurnstileVerifier {
	return &TurnstileVerifier{
		secret:    secret,
		verifyURL: turnstileVerifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify posts the client token to the siteverify endpoint. A missing token
// or a negative verdict is domain.ErrForbidden.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return domain.ErrForbidden
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("siteverify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var verdict struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return fmt.Errorf("siteverify response: %w", err)
	}
	if !verdict.Success {
		return domain.ErrForbidden
	}
	return nil
}
