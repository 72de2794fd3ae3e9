package provider

import (
	"context"
	"errors"
	"net/http"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// GoogleOAuth implements out.OAuthProvider against Google's authorization server.
type GoogleOAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// OAuthConfig holds the OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides google.Endpoint.
	Endpoint *oauth2.Endpoint
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
}

var _ out.OAuthProvider = (*GoogleOAuth)(nil)

// NewGoogleOAuth creates a new GoogleOAuth.
func NewGoogleOAuth(cfg OAuthConfig) *GoogleOAuth {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     endpoint,
		},
		httpClient: cfg.HTTPClient,
	}
}

// AuthCodeURL returns the consent URL. Offline access with forced consent
// makes Google issue a refresh token on every grant.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*domain.TokenSet, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	token, err := g.config.Exchange(g.clientContext(ctx), code)
	if err != nil {
		return nil, err
	}
	return toTokenSet(token), nil
}

// Refresh mints a new access token from a refresh token.
func (g *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	src := g.config.TokenSource(g.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, err
	}

	set := toTokenSet(token)
	// The token source copies the old refresh token forward when the
	// response does not rotate it.
	if set.RefreshToken == refreshToken {
		set.RefreshToken = ""
	}
	return set, nil
}

func (g *GoogleOAuth) clientContext(ctx context.Context) context.Context {
	if g.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

func toTokenSet(t *oauth2.Token) *domain.TokenSet {
	return &domain.TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}
