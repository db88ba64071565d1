// Package totp implementa códigos de un solo uso basados en tiempo (RFC 6238, SHA1, 6 dígitos, 30s).
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	Digits = 6
	Period = 30 // segundos
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret retorna 20 bytes aleatorios y su forma base32 sin padding.
func GenerateSecret() (raw []byte, enc string, err error) {
	raw = make([]byte, 20)
	if _, err = rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, b32.EncodeToString(raw), nil
}

// DecodeSecret acepta el secreto base32 (con o sin padding, case-insensitive).
func DecodeSecret(enc string) ([]byte, error) {
	enc = strings.TrimRight(strings.ToUpper(strings.TrimSpace(enc)), "=")
	return b32.DecodeString(enc)
}

// OTPAuthURL construye otpauth:// para QR.
func OTPAuthURL(issuer, accountName, secretB32 string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(Digits))
	q.Set("period", fmt.Sprint(Period))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Code devuelve el código vigente en t.
func Code(secretRaw []byte, t time.Time) string {
	return gen(secretRaw, t.Unix()/Period)
}

// Verify acepta códigos en la ventana +/- windowSteps. Contadores <= lastCounterUsed se
// saltean (anti-replay); el contador aceptado se devuelve para persistirlo.
func Verify(secretRaw []byte, code string, t time.Time, windowSteps int, lastCounterUsed int64) (ok bool, counter int64) {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false, 0
	}
	now := t.Unix() / Period
	for c := now - int64(windowSteps); c <= now+int64(windowSteps); c++ {
		if c <= lastCounterUsed {
			continue
		}
		if hmac.Equal([]byte(gen(secretRaw, c)), []byte(code)) {
			return true, c
		}
	}
	return false, 0
}

// HOTP(K, C) con HMAC-SHA1 (RFC 4226).
func gen(secretRaw []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secretRaw)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	return fmt.Sprintf("%06d", bin%1_000_000)
}
