package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsIsExpired(t *testing.T) {
	c := &Credentials{ExpiresAt: time.Now().Add(1 * time.Minute)}
	assert.True(t, c.IsExpired(0)) // default 5-minute buffer exceeds the 1-minute window

	c2 := &Credentials{ExpiresAt: time.Now().Add(1 * time.Hour)}
	assert.False(t, c2.IsExpired(0))
}

func TestOAuth2RefreshProviderRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/v2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"api_domain":   "https://www.zohoapis.in",
		})
	}))
	defer srv.Close()

	regionalAccountsBase["https://www.zohoapis.in"] = srv.URL
	defer func() { regionalAccountsBase["https://www.zohoapis.in"] = "https://accounts.zoho.in" }()

	p := NewOAuth2RefreshProvider("client-id", "secret", "refresh-tok", "https://www.zohoapis.in")
	creds, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", creds.AccessToken)
	assert.False(t, creds.IsExpired(0))
}

func TestPATProviderRequiresToken(t *testing.T) {
	p := NewPATProvider("")
	_, err := p.GetCredentials(context.Background())
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	p2 := NewPATProvider("pat-abc")
	creds, err := p2.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pat-abc", creds.AccessToken)
}
