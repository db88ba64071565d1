package password

import "unicode"

// Policy describe los requisitos mínimos de una contraseña.
type Policy struct {
	MinLength     int  `yaml:"min_length" env:"MIN_LENGTH"`
	RequireUpper  bool `yaml:"require_upper" env:"REQUIRE_UPPER"`
	RequireLower  bool `yaml:"require_lower" env:"REQUIRE_LOWER"`
	RequireDigit  bool `yaml:"require_digit" env:"REQUIRE_DIGIT"`
	RequireSymbol bool `yaml:"require_symbol" env:"REQUIRE_SYMBOL"`

	Blacklist *Blacklist `yaml:"-" env:"-"`
}

// Reasons devueltos por Validate.
const (
	ReasonTooShort      = "too_short"
	ReasonMissingUpper  = "missing_upper"
	ReasonMissingLower  = "missing_lower"
	ReasonMissingDigit  = "missing_digit"
	ReasonMissingSymbol = "missing_symbol"
	ReasonBlacklisted   = "blacklisted"
)

// Validate devuelve todas las razones de rechazo, no solo la primera.
func (p Policy) Validate(s string) (ok bool, reasons []string) {
	if len([]rune(s)) < p.MinLength {
		reasons = append(reasons, ReasonTooShort)
	}
	var hasU, hasL, hasD, hasS bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasU = true
		case unicode.IsLower(r):
			hasL = true
		case unicode.IsDigit(r):
			hasD = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasS = true
		}
	}
	if p.RequireUpper && !hasU {
		reasons = append(reasons, ReasonMissingUpper)
	}
	if p.RequireLower && !hasL {
		reasons = append(reasons, ReasonMissingLower)
	}
	if p.RequireDigit && !hasD {
		reasons = append(reasons, ReasonMissingDigit)
	}
	if p.RequireSymbol && !hasS {
		reasons = append(reasons, ReasonMissingSymbol)
	}
	if p.Blacklist.Contains(s) {
		reasons = append(reasons, ReasonBlacklisted)
	}
	return len(reasons) == 0, reasons
}
