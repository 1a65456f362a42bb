package spotify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/pulsefit/coach-server-go/internal/util"
)

const (
	DefaultAuthURL  = "https://accounts.spotify.com/authorize"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
)

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// Token is a token endpoint response. ExpiresIn is in seconds.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
}

func (t *Token) Scopes() []string {
	return strings.Fields(t.Scope)
}

// OAuthClient talks to the accounts service. The http.Client is injected so callers
// control timeouts and transport pooling.
type OAuthClient struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client) *OAuthClient {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	return &OAuthClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the consent URL for one attempt.
func (c *OAuthClient) AuthCodeURL(state, codeChallenge string) string {
	return c.conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", util.CodeChallengeMethod),
		oauth2.SetAuthURLParam("show_dialog", "true"),
	)
}

// Exchange redeems an authorization code. The PKCE exchange authenticates with
// the verifier, so the client secret is not sent.
func (c *OAuthClient) Exchange(ctx context.Context, code, codeVerifier string) (*Token, error) {
	pkceConf := *c.conf
	pkceConf.ClientSecret = ""

	tok, err := pkceConf.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return convertToken(tok)
}

// Refresh mints a new access token from a refresh token. When the provider does not
// rotate the refresh token the old one is returned in the result.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := c.conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return convertToken(tok)
}

func (c *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func convertToken(tok *oauth2.Token) (*Token, error) {
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	if tok.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: missing expires_in", ErrMalformedResponse)
	}

	scope, _ := tok.Extra("scope").(string)

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		Scope:        scope,
	}, nil
}

// classifyTokenError never includes request parameters in the returned error.
func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		tokenErr := &TokenError{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
		if retrieveErr.Response != nil {
			tokenErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return tokenErr
	}

	if isTransportError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
