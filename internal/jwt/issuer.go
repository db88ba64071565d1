// Package jwt firma y valida los access tokens de sesión (HS256, clave simétrica).
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/johnid/internal/claims"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClockSkew es la tolerancia de reloj al validar nbf/exp.
const ClockSkew = 5 * time.Minute

// MinSecretLen es el largo mínimo de la clave HMAC.
const MinSecretLen = 32

var (
	ErrInvalidToken    = errors.New("invalid_jwt")
	ErrInvalidIssuer   = errors.New("invalid_issuer")
	ErrInvalidAudience = errors.New("invalid_audience")
	ErrNotYetValid     = errors.New("not_before")
)

// AccessTokenData son los datos de una emisión. Se arma por request y no se persiste.
type AccessTokenData struct {
	TokenID   string // jti; vacío => se genera uno
	AppID     string
	UserID    string
	UserName  string
	UserEmail string
	Claims    *claims.Set
}

// Issuer firma access tokens con HS256. iss == aud salvo que se configure otra audiencia.
type Issuer struct {
	Iss       string
	Aud       string
	AccessTTL time.Duration

	key []byte
	now func() time.Time
}

func NewIssuer(iss, aud string, secret []byte, accessTTL time.Duration) (*Issuer, error) {
	if iss == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt: secret key must be at least %d bytes", MinSecretLen)
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("jwt: access ttl must be positive")
	}
	if aud == "" {
		aud = iss
	}
	k := make([]byte, len(secret))
	copy(k, secret)
	return &Issuer{Iss: iss, Aud: aud, AccessTTL: accessTTL, key: k, now: time.Now}, nil
}

// SetClock reemplaza el reloj (tests).
func (i *Issuer) SetClock(now func() time.Time) { i.now = now }

// Now devuelve el instante actual según el reloj del issuer.
func (i *Issuer) Now() time.Time { return i.now() }

// BuildClaims arma {jti, sub, email, name, nameid, appId} ∪ d.Claims, sin duplicados.
func (i *Issuer) BuildClaims(d AccessTokenData) *claims.Set {
	jti := d.TokenID
	if jti == "" {
		jti = uuid.NewString()
	}
	appID := d.AppID
	if appID == "" {
		appID = claims.DefaultAppID
	}
	set := claims.NewSet(
		claims.New(claims.TypeJTI, jti),
		claims.New(claims.TypeSubject, d.UserID),
		claims.New(claims.TypeEmail, d.UserEmail),
		claims.New(claims.TypeName, d.UserName),
		claims.New(claims.TypeNameID, d.UserID),
		claims.New(claims.TypeAppID, appID),
	)
	set.Union(d.Claims)
	return set
}

// IssueAccessToken firma el token; nbf = ahora, exp = ahora + AccessTTL.
func (i *Issuer) IssueAccessToken(d AccessTokenData) (string, time.Time, error) {
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.AccessTTL)

	mc := jwtv5.MapClaims(i.BuildClaims(d).ToMap())
	// los registrados pisan cualquier claim del caller con el mismo nombre
	mc["iss"] = i.Iss
	mc["aud"] = i.Aud
	mc["nbf"] = now.Unix()
	mc["exp"] = exp.Unix()

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, mc)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (i *Issuer) keyfunc(*jwtv5.Token) (any, error) { return i.key, nil }
