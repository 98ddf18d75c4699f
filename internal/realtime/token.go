package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenProvider fetches short-lived realtime credentials from the backend,
// forwarding capture configuration hints.
type TokenProvider struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewTokenProvider creates a token provider against the backend API.
func NewTokenProvider(baseURL, authToken string) *TokenProvider {
	return &TokenProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// TokenHints are the capture configuration hints sent with the token request.
type TokenHints struct {
	VADSilenceMs int
	OutputLang   string
}

type tokenResponse struct {
	Value         string `json:"value"`
	ClientSecret  string `json:"client_secret"`
	ClientSecret2 string `json:"clientSecret"`
}

// EphemeralToken requests a short-lived bearer credential for the
// negotiation exchange. Failures carry the token context tag.
func (p *TokenProvider) EphemeralToken(ctx context.Context, hints TokenHints) (string, error) {
	form := url.Values{}
	form.Set("vad_silence", strconv.Itoa(hints.VADSilenceMs))
	form.Set("outputLang", hints.OutputLang)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", ContextToken, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.authToken)

	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ContextToken, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", &HTTPError{StatusCode: res.StatusCode, Body: string(body), Context: ContextToken}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", ContextToken, err)
	}

	secret := tr.Value
	if secret == "" {
		secret = tr.ClientSecret
	}
	if secret == "" {
		secret = tr.ClientSecret2
	}
	if secret == "" {
		return "", fmt.Errorf("%s: client_secret missing in response", ContextToken)
	}
	return secret, nil
}
