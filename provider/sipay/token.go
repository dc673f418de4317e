package sipay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/odemehub/odemehub/provider"
)

const (
	endpointToken = "/api/token"

	// A token is refreshed this long before its stated expiry so an
	// almost-expired token is never attached to a request.
	tokenRefreshSkew = 60 * time.Second

	// Fallback lifetime when the token answer carries no usable expiry
	defaultTokenTTL = 1 * time.Hour
)

// tokenSource fetches and caches the short-lived bearer token. Safe for
// concurrent use; at most one fetch runs at a time.
type tokenSource struct {
	appID     string
	appSecret string
	client    *provider.ProviderHTTPClient

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func newTokenSource(appID, appSecret string, client *provider.ProviderHTTPClient) *tokenSource {
	return &tokenSource{
		appID:     appID,
		appSecret: appSecret,
		client:    client,
		now:       time.Now,
	}
}

// Token returns a valid bearer token, fetching a fresh one when the cached
// token is absent or inside the refresh window.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt.Add(-tokenRefreshSkew)) {
		return s.token, nil
	}

	resp, err := s.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointToken,
		Body: map[string]string{
			"app_id":     s.appID,
			"app_secret": s.appSecret,
		},
	})
	if err != nil {
		return "", provider.NewNetworkError(providerName, err)
	}

	var payload struct {
		StatusCode int `json:"status_code"`
		Data       struct {
			Token     string `json:"token"`
			ExpiresAt string `json:"expires_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", provider.NewParseError(providerName, string(resp.Body), err)
	}
	if payload.StatusCode != statusCodeSuccess || payload.Data.Token == "" {
		return "", provider.NewPaymentError(providerName, provider.ErrorKindConfig,
			fmt.Sprintf("%d", payload.StatusCode), "token exchange failed")
	}

	s.token = payload.Data.Token
	s.expiresAt = s.now().Add(defaultTokenTTL)
	if expiry, err := time.ParseInLocation("2006-01-02 15:04:05", payload.Data.ExpiresAt, time.Local); err == nil {
		s.expiresAt = expiry
	}
	return s.token, nil
}

// invalidate drops the cached token so the next call fetches a new one
func (s *tokenSource) invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}
