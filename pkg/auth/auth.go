// Package auth resolves the credential injected into service requests:
// either a pre-issued token or one derived from a username and password
// through the server or portal token endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultExpiration is the requested token lifetime in minutes.
const DefaultExpiration = 60

// ErrTokenMissing is returned when the token endpoint answers without a token.
var ErrTokenMissing = errors.New("token missing from response")

// Credentials are the inputs from which a token is resolved.
type Credentials struct {
	// Token is a pre-issued token, used verbatim when set
	Token string `yaml:"token"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// PortalURL selects portal token issuance; server issuance otherwise
	PortalURL string `yaml:"portal_url" validate:"omitempty,url"`
}

// CanIssue reports whether both username and password are non-blank.
func (c Credentials) CanIssue() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != ""
}

// Provider supplies credentials.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static is a Provider returning fixed credentials.
type Static Credentials

// Credentials implements Provider.
func (s Static) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// CredentialError is returned when credentials are unusable or token
// issuance fails.
type CredentialError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("credential %s at %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("credential %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ServerTokenURL derives the server token endpoint from a service URL:
// https://{host}/{instance}/tokens/generateToken.
func ServerTokenURL(serviceURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serviceURL))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", serviceURL)
	}
	instance, _, _ := strings.Cut(strings.TrimLeft(u.Path, "/"), "/")
	if instance == "" {
		return "", fmt.Errorf("missing server instance in %q", serviceURL)
	}
	return client.JoinURL("https://"+u.Host, instance, "tokens", "generateToken"), nil
}

// PortalTokenURL returns the portal token endpoint.
func PortalTokenURL(portalURL string) string {
	return client.JoinURL(portalURL, "sharing", "rest", "generateToken")
}

// TokenIssuer requests tokens from a server or portal.
type TokenIssuer struct {
	querier    client.Querier
	expiration int
	logger     zerolog.Logger
}

// NewTokenIssuer creates an issuer. querier must not inject a token itself.
func NewTokenIssuer(querier client.Querier) *TokenIssuer {
	return &TokenIssuer{
		querier:    querier,
		expiration: DefaultExpiration,
		logger:     log.With().Str("component", "auth").Logger(),
	}
}

// Issue requests a token for creds against the endpoint that matches
// serviceURL or creds.PortalURL.
func (t *TokenIssuer) Issue(ctx context.Context, serviceURL string, creds Credentials) (string, error) {
	var tokenURL string
	if creds.PortalURL != "" {
		tokenURL = PortalTokenURL(creds.PortalURL)
	} else {
		var err error
		tokenURL, err = ServerTokenURL(serviceURL)
		if err != nil {
			return "", &CredentialError{Op: "derive token url", URL: serviceURL, Err: err}
		}
	}

	t.logger.Info().
		Str("url", tokenURL).
		Bool("portal", creds.PortalURL != "").
		Msg("Generating token")

	resp, err := t.querier.Query(ctx, tokenURL, url.Values{
		"username":   {creds.Username},
		"password":   {creds.Password},
		"client":     {"requestip"},
		"expiration": {strconv.Itoa(t.expiration)},
		"f":          {"json"},
	})
	if err != nil {
		return "", &CredentialError{Op: "generate token", URL: tokenURL, Err: err}
	}

	var token string
	if _, err := resp.Field("token", &token); err != nil {
		return "", &CredentialError{Op: "generate token", URL: tokenURL, Err: err}
	}
	if token == "" {
		return "", &CredentialError{Op: "generate token", URL: tokenURL, Err: ErrTokenMissing}
	}
	return token, nil
}

// Resolve returns the token to inject for serviceURL. A nil provider, or
// credentials without a token and with a blank username or password,
// resolve to no token.
func Resolve(ctx context.Context, provider Provider, issuer *TokenIssuer, serviceURL string) (string, error) {
	if provider == nil {
		return "", nil
	}
	creds, err := provider.Credentials(ctx)
	if err != nil {
		return "", &CredentialError{Op: "load", Err: err}
	}
	if creds.Token != "" {
		return creds.Token, nil
	}
	if !creds.CanIssue() {
		return "", nil
	}
	if issuer == nil {
		return "", &CredentialError{Op: "generate token", Err: errors.New("no token issuer configured")}
	}
	return issuer.Issue(ctx, serviceURL, creds)
}
