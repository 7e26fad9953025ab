package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"gatehouse/internal/infrastructure/config"
)

// maxUserinfoBody caps the userinfo response size (64KB is generous).
const maxUserinfoBody = 64 * 1024

// Identity is the normalised profile returned by a provider's userinfo
// endpoint. ProviderAccountID is the provider's stable identifier for
// the user, not ours.
type Identity struct {
	ProviderAccountID string
	Email             string
	Name              string
}

// OAuthProvider wraps an oauth2 config with the userinfo endpoint needed
// to resolve an identity after the code exchange.
type OAuthProvider struct {
	Name        string
	Config      *oauth2.Config
	UserinfoURL string
}

// OAuthRegistry holds the configured OAuth providers.
type OAuthRegistry struct {
	providers map[string]*OAuthProvider
	client    *http.Client
}

// NewOAuthRegistry builds the provider registry from configuration.
// google and github get their well-known endpoints; any other provider
// name requires explicit auth/token/userinfo URLs (validated at config
// load time).
func NewOAuthRegistry(cfg config.OAuthConfig, baseURL string) *OAuthRegistry {
	reg := &OAuthRegistry{
		providers: make(map[string]*OAuthProvider),
		client:    &http.Client{Timeout: 10 * time.Second},
	}

	for name, pc := range cfg.Providers {
		provider := &OAuthProvider{
			Name:        name,
			UserinfoURL: pc.UserinfoURL,
			Config: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Scopes:       pc.Scopes,
				RedirectURL:  baseURL + "/auth/oauth/" + name + "/callback",
				Endpoint: oauth2.Endpoint{
					AuthURL:  pc.AuthURL,
					TokenURL: pc.TokenURL,
				},
			},
		}

		switch name {
		case "google":
			provider.Config.Endpoint = endpoints.Google
			if provider.UserinfoURL == "" {
				provider.UserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
			}
			if len(provider.Config.Scopes) == 0 {
				provider.Config.Scopes = []string{"openid", "email", "profile"}
			}
		case "github":
			provider.Config.Endpoint = endpoints.GitHub
			if provider.UserinfoURL == "" {
				provider.UserinfoURL = "https://api.github.com/user"
			}
			if len(provider.Config.Scopes) == 0 {
				provider.Config.Scopes = []string{"read:user", "user:email"}
			}
		}

		reg.providers[name] = provider
	}

	return reg
}

// Get returns a configured provider by name.
func (r *OAuthRegistry) Get(name string) (*OAuthProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the configured provider names, for rendering sign-in buttons.
func (r *OAuthRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// AuthCodeURL builds the provider's consent page URL with the given
// anti-CSRF state value.
func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.Config.AuthCodeURL(state)
}

// Exchange trades an authorisation code for a provider token.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code with %s: %w", p.Name, err)
	}
	return token, nil
}

// FetchIdentity calls the provider's userinfo endpoint with the freshly
// exchanged token and normalises the response into an Identity.
func (r *OAuthRegistry) FetchIdentity(ctx context.Context, p *OAuthProvider, token *oauth2.Token) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo from %s: %w", p.Name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo from %s returned status %d", p.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoBody))
	if err != nil {
		return nil, fmt.Errorf("reading userinfo body: %w", err)
	}

	identity, err := parseIdentity(p.Name, body)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// parseIdentity extracts the normalised identity fields from a provider's
// userinfo JSON. Google uses OIDC field names; GitHub has its own shape;
// custom providers are expected to follow OIDC.
func parseIdentity(provider string, body []byte) (*Identity, error) {
	var raw struct {
		// OIDC (google and custom providers)
		Sub string `json:"sub"`
		// GitHub numeric ID and login
		ID    json.Number `json:"id"`
		Login string      `json:"login"`

		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding userinfo from %s: %w", provider, err)
	}

	identity := &Identity{
		Email: raw.Email,
		Name:  raw.Name,
	}

	switch {
	case raw.Sub != "":
		identity.ProviderAccountID = raw.Sub
	case raw.ID.String() != "":
		identity.ProviderAccountID = raw.ID.String()
	default:
		return nil, fmt.Errorf("userinfo from %s has no account identifier", provider)
	}

	if identity.Name == "" && raw.Login != "" {
		identity.Name = raw.Login
	}

	if !IsValidEmail(identity.Email) {
		return nil, fmt.Errorf("userinfo from %s has no usable email address", provider)
	}

	return identity, nil
}

// tokenExpiry converts an oauth2 token expiry to a storable value.
// A zero expiry means the provider token does not expire.
func tokenExpiry(token *oauth2.Token) time.Time {
	if token.Expiry.IsZero() {
		return time.Time{}
	}
	return token.Expiry.UTC()
}

// AccountFromToken builds an Account record from a provider token and
// the identity it resolved to. The caller fills in UserID.
func AccountFromToken(provider string, identity *Identity, token *oauth2.Token) *Account {
	return &Account{
		Provider:          provider,
		ProviderAccountID: identity.ProviderAccountID,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		TokenType:         token.TokenType,
		Scope:             scopeFromToken(token),
		ExpiresAt:         tokenExpiry(token),
	}
}

// scopeFromToken extracts the granted scope from the token response extras,
// when the provider returns one.
func scopeFromToken(token *oauth2.Token) string {
	if s, ok := token.Extra("scope").(string); ok {
		return s
	}
	return ""
}
