// Package facebook valida access tokens de Facebook Login contra la Graph API.
package facebook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/johnid/internal/providers"
)

// Name es el nombre canónico del proveedor.
const Name = "Facebook"

// DefaultGraphURL es la raíz de la Graph API.
const DefaultGraphURL = "https://graph.facebook.com"

func init() {
	providers.Register(Name, func(cfg providers.Config, deps providers.Deps) (providers.Provider, error) {
		return New(cfg, deps, Options{})
	})
}

// Options permite apuntar a otra Graph API (tests).
type Options struct {
	GraphURL string
}

// Provider valida tokens con /debug_token y lee el perfil de /me.
type Provider struct {
	clientID     string
	clientSecret string
	graph        string
	http         *http.Client
}

// New crea el proveedor. ClientID y ClientSecret son obligatorios: el
// debug_token se autentica con el app token "id|secret".
func New(cfg providers.Config, deps providers.Deps, opts Options) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("facebook: client_id and client_secret are required")
	}
	if opts.GraphURL == "" {
		opts.GraphURL = DefaultGraphURL
	}
	if deps.HTTP == nil {
		deps.HTTP = providers.NewHTTPClient(providers.DefaultHTTPTimeout)
	}
	return &Provider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		graph:        strings.TrimRight(opts.GraphURL, "/"),
		http:         deps.HTTP,
	}, nil
}

func (p *Provider) Name() string { return Name }

type debugTokenResponse struct {
	Data struct {
		AppID   string `json:"app_id"`
		IsValid bool   `json:"is_valid"`
		UserID  string `json:"user_id"`
	} `json:"data"`
}

// ValidateAccessToken exige is_valid, app_id == ClientID y un user_id.
func (p *Provider) ValidateAccessToken(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", providers.Unauthorized(ctx, errors.New("facebook: empty access token"))
	}
	q := url.Values{}
	q.Set("input_token", accessToken)
	q.Set("access_token", p.clientID+"|"+p.clientSecret)

	var out debugTokenResponse
	if err := providers.GetJSON(ctx, p.http, p.graph+"/debug_token?"+q.Encode(), &out); err != nil {
		return "", providers.Unauthorized(ctx, err)
	}
	switch {
	case !out.Data.IsValid:
		return "", providers.Unauthorized(ctx, errors.New("facebook: token is not valid"))
	case out.Data.AppID != p.clientID:
		return "", providers.Unauthorized(ctx, fmt.Errorf("facebook: token issued for app %q", out.Data.AppID))
	case out.Data.UserID == "":
		return "", providers.Unauthorized(ctx, errors.New("facebook: missing user_id"))
	}
	return out.Data.UserID, nil
}

type meResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FetchProfile lee id, name y email de /me.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*providers.Profile, error) {
	q := url.Values{}
	q.Set("fields", "id,name,email")
	q.Set("access_token", accessToken)

	var me meResponse
	if err := providers.GetJSON(ctx, p.http, p.graph+"/me?"+q.Encode(), &me); err != nil {
		return nil, providers.Unauthorized(ctx, err)
	}
	if me.ID == "" {
		return nil, providers.Unauthorized(ctx, errors.New("facebook: profile without id"))
	}
	return &providers.Profile{Subject: me.ID, DisplayName: me.Name, Email: me.Email}, nil
}
