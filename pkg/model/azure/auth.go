// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/loom/internal/httpclient"
)

const defaultAuthority = "https://login.microsoftonline.com"

// tokenExpirySkew renews tokens this long before they actually expire so
// in-flight requests never carry a token that dies mid-call.
const tokenExpirySkew = 2 * time.Minute

// tokenSource acquires Entra ID access tokens through the
// client-credentials flow and caches them until shortly before expiry.
type tokenSource struct {
	http         *httpclient.Client
	authority    string
	tenantID     string
	clientID     string
	clientSecret string
	scope        string

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenSource(cfg Config, retrying *httpclient.Client) *tokenSource {
	authority := cfg.Authority
	if authority == "" {
		authority = defaultAuthority
	}
	scope := cfg.Scope
	if scope == "" {
		scope = defaultScope
	}
	return &tokenSource{
		http:         retrying,
		authority:    strings.TrimSuffix(authority, "/"),
		tenantID:     cfg.TenantID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        scope,
	}
}

// Token returns a valid access token, refreshing when the cached one is
// expired or about to expire.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiry) {
		return t.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
		"scope":         {t.scope},
	}

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", t.authority, t.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(payload))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	t.token = tokenResp.AccessToken
	t.expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpirySkew)
	return t.token, nil
}
