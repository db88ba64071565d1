package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/johnid/internal/cache"
)

// DefaultDiscoveryTTL es cuánto vive un discovery document en cache.
const DefaultDiscoveryTTL = 24 * time.Hour

// Discovery es el subconjunto usado del documento openid-configuration.
type Discovery struct {
	Issuer           string `json:"issuer"`
	JWKSURI          string `json:"jwks_uri"`
	UserInfoEndpoint string `json:"userinfo_endpoint,omitempty"`
}

// OIDCOptions configura un OIDC.
type OIDCOptions struct {
	DiscoveryURL string
	ClientID     string
	// SkipIssuerCheck para endpoints multi-tenant donde el iss varía por tenant.
	SkipIssuerCheck bool
	DiscoveryTTL    time.Duration
	Now             func() time.Time
}

// OIDC verifica ID tokens contra el discovery document y el JWKS de un
// issuer. El discovery se cachea en cache.Client y un solo fetch por URL
// queda en vuelo a la vez; las claves las cachea oidc.RemoteKeySet.
type OIDC struct {
	opts  OIDCOptions
	http  *http.Client
	cache cache.Client
	group singleflight.Group

	mu      sync.Mutex
	keySets map[string]*oidc.RemoteKeySet
}

// NewOIDC crea el verificador. Es seguro para uso concurrente.
func NewOIDC(opts OIDCOptions, deps Deps) *OIDC {
	if opts.DiscoveryTTL <= 0 {
		opts.DiscoveryTTL = DefaultDiscoveryTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.HTTP == nil {
		deps.HTTP = NewHTTPClient(DefaultHTTPTimeout)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(opts.DiscoveryTTL)
	}
	return &OIDC{opts: opts, http: deps.HTTP, cache: deps.Cache, keySets: map[string]*oidc.RemoteKeySet{}}
}

// HTTP devuelve el pool compartido.
func (o *OIDC) HTTP() *http.Client { return o.http }

// Discovery devuelve el documento, desde cache si está vigente.
// Si ctx se cancela mientras espera, vuelve de inmediato con ctx.Err().
func (o *OIDC) Discovery(ctx context.Context) (*Discovery, error) {
	k := "oidc:discovery:" + o.opts.DiscoveryURL
	if b, err := o.cache.Get(ctx, k); err == nil {
		var d Discovery
		if json.Unmarshal(b, &d) == nil && d.JWKSURI != "" {
			return &d, nil
		}
	}

	ch := o.group.DoChan(k, func() (any, error) {
		// el fetch es compartido: no depende de la cancelación de un caller puntual
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultHTTPTimeout)
		defer cancel()

		var d Discovery
		if err := GetJSON(fetchCtx, o.http, o.opts.DiscoveryURL, &d); err != nil {
			return nil, err
		}
		if d.Issuer == "" || d.JWKSURI == "" {
			return nil, errors.New("oidc: incomplete discovery document")
		}
		if b, err := json.Marshal(d); err == nil {
			_ = o.cache.Set(fetchCtx, k, b, o.opts.DiscoveryTTL)
		}
		return &d, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Discovery), nil
	}
}

func (o *OIDC) keySet(jwksURI string) *oidc.RemoteKeySet {
	o.mu.Lock()
	defer o.mu.Unlock()
	ks, ok := o.keySets[jwksURI]
	if !ok {
		// el contexto del key set solo aporta el cliente HTTP; vive tanto como el OIDC
		ks = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), o.http), jwksURI)
		o.keySets[jwksURI] = ks
	}
	return ks
}

// Verify valida firma (RS256), audiencia = ClientID, vigencia e issuer
// (salvo SkipIssuerCheck).
func (o *OIDC) Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	d, err := o.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	v := oidc.NewVerifier(d.Issuer, o.keySet(d.JWKSURI), &oidc.Config{
		ClientID:             o.opts.ClientID,
		SupportedSigningAlgs: []string{oidc.RS256},
		SkipIssuerCheck:      o.opts.SkipIssuerCheck,
		Now:                  o.opts.Now,
	})
	return v.Verify(ctx, rawIDToken)
}
