// Package microsoft valida tokens del endpoint multi-tenant de Microsoft
// identity platform (Azure AD v2.0).
package microsoft

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dropDatabas3/johnid/internal/providers"
)

// Name es el nombre canónico del proveedor.
const Name = "Microsoft"

const (
	// DefaultDiscoveryURL es el endpoint "common": el iss depende del tenant
	// del usuario, por eso el chequeo de issuer se relaja.
	DefaultDiscoveryURL = "https://login.microsoftonline.com/common/v2.0/.well-known/openid-configuration"
	DefaultGraphURL     = "https://graph.microsoft.com/v1.0"
)

func init() {
	providers.Register(Name, func(cfg providers.Config, deps providers.Deps) (providers.Provider, error) {
		return New(cfg, deps, Options{})
	})
}

// Options permite apuntar a otro issuer/Graph y fijar el reloj (tests).
type Options struct {
	DiscoveryURL string
	GraphURL     string
	Now          func() time.Time
}

type Provider struct {
	oidc  *providers.OIDC
	graph string
}

func New(cfg providers.Config, deps providers.Deps, opts Options) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("microsoft: client_id is required")
	}
	if opts.DiscoveryURL == "" {
		opts.DiscoveryURL = DefaultDiscoveryURL
	}
	if opts.GraphURL == "" {
		opts.GraphURL = DefaultGraphURL
	}
	return &Provider{
		oidc: providers.NewOIDC(providers.OIDCOptions{
			DiscoveryURL:    opts.DiscoveryURL,
			ClientID:        cfg.ClientID,
			SkipIssuerCheck: true,
			Now:             opts.Now,
		}, deps),
		graph: strings.TrimRight(opts.GraphURL, "/"),
	}, nil
}

func (p *Provider) Name() string { return Name }

type oidClaim struct {
	OID string `json:"oid"`
}

// ValidateAccessToken verifica firma, audiencia y vigencia, y devuelve el
// claim oid (object id del usuario, estable entre aplicaciones).
func (p *Provider) ValidateAccessToken(ctx context.Context, accessToken string) (string, error) {
	tok, err := p.oidc.Verify(ctx, accessToken)
	if err != nil {
		return "", providers.Unauthorized(ctx, err)
	}
	var c oidClaim
	if err := tok.Claims(&c); err != nil {
		return "", providers.Unauthorized(ctx, err)
	}
	if c.OID == "" {
		return "", providers.Unauthorized(ctx, errors.New("microsoft: token without oid"))
	}
	return c.OID, nil
}

type graphMe struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// FetchProfile consulta Graph /me con el token como Bearer.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*providers.Profile, error) {
	var me graphMe
	if err := providers.GetJSON(ctx, providers.BearerClient(p.oidc.HTTP(), accessToken), p.graph+"/me", &me); err != nil {
		return nil, providers.Unauthorized(ctx, err)
	}
	if me.ID == "" {
		return nil, providers.Unauthorized(ctx, errors.New("microsoft: profile without id"))
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	return &providers.Profile{Subject: me.ID, DisplayName: me.DisplayName, Email: email}, nil
}
