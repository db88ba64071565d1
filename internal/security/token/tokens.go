// Package tokens genera secretos opacos y sus digests para persistencia.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// RefreshBytes es la entropía de un refresh token (256 bits).
const RefreshBytes = 32

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", nBytes)
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (lo que se guarda en DB).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// MatchesDigest compara el valor presentado contra un digest almacenado en tiempo constante.
func MatchesDigest(presented, storedDigest string) bool {
	if presented == "" || storedDigest == "" {
		return false
	}
	got := SHA256Base64URL(presented)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedDigest)) == 1
}
