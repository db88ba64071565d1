// Package providertest levanta un issuer OIDC falso (discovery, JWKS,
// userinfo y un Graph-like /me) para testear las variantes de providers.
package providertest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Issuer es un servidor OIDC de pruebas.
type Issuer struct {
	Server *httptest.Server
	Key    *rsa.PrivateKey
	KeyID  string

	// IssuerURL es el "issuer" publicado en discovery.
	IssuerURL string
	// Profile es lo que devuelven /userinfo y /me.
	Profile map[string]any
	// Delay retrasa todas las respuestas (para tests de cancelación).
	Delay time.Duration

	discoveryHits atomic.Int64
	jwksHits      atomic.Int64
}

// NewIssuer arranca el servidor; se cierra solo al terminar el test.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	iss := &Issuer{Key: key, KeyID: "test-key-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		iss.discoveryHits.Add(1)
		iss.writeJSON(w, r, map[string]any{
			"issuer":            iss.IssuerURL,
			"jwks_uri":          iss.Server.URL + "/keys",
			"userinfo_endpoint": iss.Server.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		iss.jwksHits.Add(1)
		iss.writeJSON(w, r, map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": iss.KeyID,
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	})
	profile := func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		iss.writeJSON(w, r, iss.Profile)
	}
	mux.HandleFunc("/userinfo", profile)
	mux.HandleFunc("/me", profile)

	iss.Server = httptest.NewServer(mux)
	iss.IssuerURL = iss.Server.URL
	t.Cleanup(iss.Server.Close)
	return iss
}

func (i *Issuer) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	if i.Delay > 0 {
		select {
		case <-time.After(i.Delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// DiscoveryURL es la URL del openid-configuration.
func (i *Issuer) DiscoveryURL() string {
	return i.Server.URL + "/.well-known/openid-configuration"
}

// DiscoveryHits cuenta los fetches del discovery document.
func (i *Issuer) DiscoveryHits() int64 { return i.discoveryHits.Load() }

// JWKSHits cuenta los fetches del JWKS.
func (i *Issuer) JWKSHits() int64 { return i.jwksHits.Load() }

// Claims arma claims válidos por una hora para aud.
func (i *Issuer) Claims(aud, sub string) jwtv5.MapClaims {
	now := time.Now()
	return jwtv5.MapClaims{
		"iss": i.IssuerURL,
		"aud": aud,
		"sub": sub,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Sign firma con la clave publicada.
func (i *Issuer) Sign(t *testing.T, c jwtv5.MapClaims) string {
	t.Helper()
	return SignWith(t, i.Key, i.KeyID, c)
}

// SignWith firma con una clave arbitraria (para tokens forjados).
func SignWith(t *testing.T, key *rsa.PrivateKey, kid string, c jwtv5.MapClaims) string {
	t.Helper()
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, c)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// ForgedKey genera una clave que el issuer no publica.
func ForgedKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	return key
}
