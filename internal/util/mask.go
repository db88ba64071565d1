// Package util tiene helpers para no filtrar datos personales en los logs.
package util

import "strings"

// MaskEmail deja la primera letra del usuario y del dominio: "alice@example.com" => "a…@e….com".
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		return maskShort(s)
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskPhone deja visibles solo los últimos 2 dígitos: "+5491122334455" => "…55".
func MaskPhone(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return maskShort(s)
	}
	return "…" + s[len(s)-2:]
}

func maskShort(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 3:
		return "***"
	default:
		return s[:1] + "…" + s[len(s)-1:]
	}
}
