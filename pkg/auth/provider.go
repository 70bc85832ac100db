package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// regionalAccountsBase maps a CRM API domain (as returned by the caller's
// config, or defaulted) to the identity provider's token endpoint. The set
// is small and closed, matching the source's own fixed region list.
var regionalAccountsBase = map[string]string{
	"https://www.zohoapis.in": "https://accounts.zoho.in",
	"https://www.zohoapis.com": "https://accounts.zoho.com",
	"https://www.zohoapis.eu": "https://accounts.zoho.eu",
	"https://www.zohoapis.com.au": "https://accounts.zoho.com.au",
}

const defaultAPIDomain = "https://www.zohoapis.in"

// TokenProvider exchanges a long-lived refresh token for short-lived access
// tokens, refreshing transparently when the cached token has expired.
type TokenProvider interface {
	GetCredentials(ctx context.Context) (*Credentials, error)
	Refresh(ctx context.Context) (*Credentials, error)
	Close() error
}

// OAuth2RefreshProvider implements TokenProvider for the CRM SaaS source's
// refresh-token flow (§4.2).
type OAuth2RefreshProvider struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	refreshToken string
	apiDomain    string
	cached       *Credentials
}

// NewOAuth2RefreshProvider builds a provider for the given client
// credentials. apiDomain selects the region; it defaults to the India
// region when empty, matching the source adapter's own default.
func NewOAuth2RefreshProvider(clientID, clientSecret, refreshToken, apiDomain string) *OAuth2RefreshProvider {
	if apiDomain == "" {
		apiDomain = defaultAPIDomain
	}
	return &OAuth2RefreshProvider{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		apiDomain:    apiDomain,
	}
}

// GetCredentials returns a live access token, refreshing first if the
// cached one is expired or absent.
func (p *OAuth2RefreshProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	if p.cached != nil && !p.cached.IsExpired(0) {
		return p.cached, nil
	}
	return p.Refresh(ctx)
}

// Refresh unconditionally exchanges the refresh token for a new access
// token. Called on initial connect and again whenever a CRM page read
// observes a 401; ListTables and GetSchema do not refresh on a 401.
func (p *OAuth2RefreshProvider) Refresh(ctx context.Context) (*Credentials, error) {
	accountsBase, ok := regionalAccountsBase[p.apiDomain]
	if !ok {
		accountsBase = regionalAccountsBase[defaultAPIDomain]
	}

	form := url.Values{
		"refresh_token": {p.refreshToken},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, accountsBase+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh token request: %w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh token request returned %d: %w", resp.StatusCode, ErrRefreshFailed)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		APIDomain   string `json:"api_domain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("refresh response carried no access token: %w", ErrRefreshFailed)
	}

	domain := body.APIDomain
	if domain == "" {
		domain = p.apiDomain
	}

	creds := &Credentials{
		AccessToken:  body.AccessToken,
		TokenType:    body.TokenType,
		ExpiresIn:    body.ExpiresIn,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		RefreshToken: p.refreshToken,
		APIDomain:    domain,
	}
	p.cached = creds
	return creds, nil
}

// Close releases provider resources. No-op: the provider owns no state
// beyond the cached token and an *http.Client the runtime already pools.
func (p *OAuth2RefreshProvider) Close() error { return nil }

// PATProvider is a trivial TokenProvider wrapping a static personal access
// token, used by the work-item SaaS source which authenticates with Basic
// auth over a PAT rather than OAuth2.
type PATProvider struct {
	token string
}

// NewPATProvider wraps a static PAT.
func NewPATProvider(token string) *PATProvider {
	return &PATProvider{token: token}
}

func (p *PATProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	if p.token == "" {
		return nil, ErrCredentialsNotFound
	}
	return &Credentials{AccessToken: p.token, TokenType: "Basic", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func (p *PATProvider) Refresh(ctx context.Context) (*Credentials, error) {
	return p.GetCredentials(ctx)
}

func (p *PATProvider) Close() error { return nil }
