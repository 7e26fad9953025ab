package auth

import (
	"errors"
	"strings"
	"testing"

	"gatehouse/internal/infrastructure/config"
)

func testOAuthConfig() config.OAuthConfig {
	return config.OAuthConfig{
		Providers: map[string]config.OAuthProviderConfig{
			"google": {
				ClientID:     "google-client",
				ClientSecret: "google-secret",
			},
			"github": {
				ClientID:     "github-client",
				ClientSecret: "github-secret",
			},
			"corp": {
				ClientID:     "corp-client",
				ClientSecret: "corp-secret",
				AuthURL:      "https://sso.corp.example/authorize",
				TokenURL:     "https://sso.corp.example/token",
				UserinfoURL:  "https://sso.corp.example/userinfo",
				Scopes:       []string{"openid", "email"},
			},
		},
	}
}

func TestNewOAuthRegistry_KnownProviders(t *testing.T) {
	reg := NewOAuthRegistry(testOAuthConfig(), "https://gatehouse.example")

	google, err := reg.Get("google")
	if err != nil {
		t.Fatalf("Get(google) error = %v", err)
	}
	if google.Config.Endpoint.AuthURL == "" {
		t.Error("google should get a well-known auth endpoint")
	}
	if google.UserinfoURL == "" {
		t.Error("google should get a default userinfo endpoint")
	}
	if len(google.Config.Scopes) == 0 {
		t.Error("google should get default scopes")
	}

	github, err := reg.Get("github")
	if err != nil {
		t.Fatalf("Get(github) error = %v", err)
	}
	if !strings.Contains(github.Config.RedirectURL, "/auth/oauth/github/callback") {
		t.Errorf("RedirectURL = %q, want callback path", github.Config.RedirectURL)
	}
}

func TestNewOAuthRegistry_CustomProvider(t *testing.T) {
	reg := NewOAuthRegistry(testOAuthConfig(), "https://gatehouse.example")

	corp, err := reg.Get("corp")
	if err != nil {
		t.Fatalf("Get(corp) error = %v", err)
	}
	if corp.Config.Endpoint.AuthURL != "https://sso.corp.example/authorize" {
		t.Errorf("AuthURL = %q, want configured value", corp.Config.Endpoint.AuthURL)
	}
	if corp.UserinfoURL != "https://sso.corp.example/userinfo" {
		t.Errorf("UserinfoURL = %q, want configured value", corp.UserinfoURL)
	}
}

func TestOAuthRegistry_UnknownProvider(t *testing.T) {
	reg := NewOAuthRegistry(testOAuthConfig(), "https://gatehouse.example")

	_, err := reg.Get("facebook")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Get(facebook) error = %v, want ErrUnknownProvider", err)
	}
}

func TestAuthCodeURL_CarriesState(t *testing.T) {
	reg := NewOAuthRegistry(testOAuthConfig(), "https://gatehouse.example")

	github, _ := reg.Get("github")
	url := github.AuthCodeURL("anti-csrf-state")
	if !strings.Contains(url, "state=anti-csrf-state") {
		t.Errorf("AuthCodeURL should carry state, got %q", url)
	}
	if !strings.Contains(url, "client_id=github-client") {
		t.Errorf("AuthCodeURL should carry client_id, got %q", url)
	}
}

func TestParseIdentity_OIDC(t *testing.T) {
	body := []byte(`{"sub":"sub-123","email":"jack@example.com","name":"Jack"}`)

	identity, err := parseIdentity("google", body)
	if err != nil {
		t.Fatalf("parseIdentity() error = %v", err)
	}
	if identity.ProviderAccountID != "sub-123" {
		t.Errorf("ProviderAccountID = %q, want sub-123", identity.ProviderAccountID)
	}
	if identity.Email != "jack@example.com" {
		t.Errorf("Email = %q, want jack@example.com", identity.Email)
	}
	if identity.Name != "Jack" {
		t.Errorf("Name = %q, want Jack", identity.Name)
	}
}

func TestParseIdentity_GitHub(t *testing.T) {
	// GitHub returns a numeric id and may null out name
	body := []byte(`{"id":98765,"login":"jackdev","email":"jack@example.com","name":null}`)

	identity, err := parseIdentity("github", body)
	if err != nil {
		t.Fatalf("parseIdentity() error = %v", err)
	}
	if identity.ProviderAccountID != "98765" {
		t.Errorf("ProviderAccountID = %q, want 98765", identity.ProviderAccountID)
	}
	// Login fills in for a missing display name
	if identity.Name != "jackdev" {
		t.Errorf("Name = %q, want jackdev", identity.Name)
	}
}

func TestParseIdentity_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no identifier", `{"email":"a@b.co","name":"A"}`},
		{"no email", `{"sub":"s-1","name":"A"}`},
		{"bad email", `{"sub":"s-1","email":"not-an-email"}`},
		{"not json", `<html>error</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseIdentity("test", []byte(tt.body)); err == nil {
				t.Error("parseIdentity() should fail")
			}
		})
	}
}
