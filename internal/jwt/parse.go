package jwt

import (
	"slices"

	"github.com/dropDatabas3/johnid/internal/claims"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Verify valida firma, iss, aud, nbf y exp (exp obligatorio) con ClockSkew de tolerancia.
func (i *Issuer) Verify(token string) (*claims.Set, error) {
	tok, err := jwtv5.Parse(token, i.keyfunc,
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithAudience(i.Aud),
		jwtv5.WithLeeway(ClockSkew),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims.FromMap(mc), nil
}

// ParseForRefresh valida firma, iss y aud pero NO exp: el refresh llega con el access ya vencido.
// nbf sí se respeta (con ClockSkew). Solo HS256.
func (i *Issuer) ParseForRefresh(token string) (*claims.Set, error) {
	tok, err := jwtv5.Parse(token, i.keyfunc,
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithoutClaimsValidation(),
	)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	if iss, err := mc.GetIssuer(); err != nil || iss != i.Iss {
		return nil, ErrInvalidIssuer
	}
	aud, err := mc.GetAudience()
	if err != nil || !slices.Contains([]string(aud), i.Aud) {
		return nil, ErrInvalidAudience
	}
	nbf, err := mc.GetNotBefore()
	if err != nil {
		return nil, ErrInvalidToken
	}
	if nbf != nil && nbf.After(i.now().Add(ClockSkew)) {
		return nil, ErrNotYetValid
	}
	return claims.FromMap(mc), nil
}
