package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"account-server/internal/domain"
)

// Profile is the provider-independent view of an external identity.
// Raw keeps the provider's payload exactly as received, for audit.
type Profile struct {
	ID    string
	Name  string
	Email string
	Raw   []byte
}

// Provider describes one external identity provider: where to send the
// user, how to trade the code for a token, and how to read the profile.
// All providers share this shape; only the configuration differs.
type Provider struct {
	Name       domain.Provider
	Config     *oauth2.Config
	ProfileURL string
	MapProfile func(raw []byte) (Profile, error)
}

// Credentials is the per-provider client registration from config.
type Credentials struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.Config.AuthCodeURL(state)
}

// Exchange trades the authorization code for an access token.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange: %w", p.Name, err)
	}
	return tok, nil
}

// FetchProfile retrieves the external profile using the access token.
func (p *Provider) FetchProfile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	client := p.Config.Client(ctx, tok)
	resp, err := client.Get(p.ProfileURL)
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile fetch: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%s profile fetch: status %d", p.Name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile read: %w", p.Name, err)
	}

	profile, err := p.MapProfile(raw)
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile map: %w", p.Name, err)
	}
	if profile.ID == "" {
		return Profile{}, fmt.Errorf("%s profile has no id", p.Name)
	}
	profile.Raw = raw
	return profile, nil
}

// NewFacebook builds the facebook provider.
func NewFacebook(creds Credentials) *Provider {
	return &Provider{
		Name: domain.ProviderFacebook,
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.CallbackURL,
			Scopes:       []string{"email"},
			Endpoint:     facebook.Endpoint,
		},
		ProfileURL: "https://graph.facebook.com/me?fields=id,name,email",
		MapProfile: func(raw []byte) (Profile, error) {
			var body struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Email string `json:"email"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return Profile{}, err
			}
			return Profile{ID: body.ID, Name: body.Name, Email: body.Email}, nil
		},
	}
}

// NewGoogle builds the google provider.
func NewGoogle(creds Credentials) *Provider {
	return &Provider{
		Name: domain.ProviderGoogle,
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.CallbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		ProfileURL: "https://www.googleapis.com/oauth2/v3/userinfo",
		MapProfile: func(raw []byte) (Profile, error) {
			var body struct {
				Sub   string `json:"sub"`
				Name  string `json:"name"`
				Email string `json:"email"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return Profile{}, err
			}
			return Profile{ID: body.Sub, Name: body.Name, Email: body.Email}, nil
		},
	}
}

// NewTwitter builds the twitter provider. Twitter's user endpoint does
// not expose email, which is fine: external accounts may omit it.
func NewTwitter(creds Credentials) *Provider {
	return &Provider{
		Name: domain.ProviderTwitter,
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.CallbackURL,
			Scopes:       []string{"users.read", "tweet.read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://twitter.com/i/oauth2/authorize",
				TokenURL: "https://api.twitter.com/2/oauth2/token",
			},
		},
		ProfileURL: "https://api.twitter.com/2/users/me",
		MapProfile: func(raw []byte) (Profile, error) {
			var body struct {
				Data struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"data"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return Profile{}, err
			}
			return Profile{ID: body.Data.ID, Name: body.Data.Name}, nil
		},
	}
}
