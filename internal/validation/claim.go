package validation

import "regexp"

// Claim type rules:
// - Start and end with [A-Za-z0-9].
// - Middle chars may include [A-Za-z0-9:_./#-] (URIs like http://schemas.example/claims/name are valid).
// - Length 1..256.
// - No whitespace, no semicolon.
//
// Examples valid: role, appId, department, urn:acme:level, http://schemas.example/claims/name
// Examples invalid: "", " role", "bad space", "semi;colon", ":leader", trailer:, 257+ chars.
var claimTypeRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9:_./#-]{0,254}[A-Za-z0-9])?$`)

// ValidClaimType returns true if the provided claim type matches the allowed pattern.
func ValidClaimType(typ string) bool {
	return claimTypeRe.MatchString(typ)
}
