package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/johnid/internal/cache"
	"github.com/dropDatabas3/johnid/internal/email"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/providers"
	"github.com/dropDatabas3/johnid/internal/security/password"
	"github.com/dropDatabas3/johnid/internal/services/session"
)

// EnvPrefix antecede a todas las variables de entorno (JOHNID_JWT_SECRET_KEY, ...).
const EnvPrefix = "JOHNID_"

// MinSecretKeyLen es el largo mínimo de jwt.secret_key en bytes.
const MinSecretKeyLen = 32

// DriverNone despliega sin Credential Store: solo inicia sesión el admin_user
// y los sign-in externos transitorios.
const DriverNone = "none"

type Config struct {
	App struct {
		// Name aparece en los asuntos de los emails.
		Name string `yaml:"name" env:"NAME"`
		// dev | staging | prod
		Env string `yaml:"env" env:"ENV"`
	} `yaml:"app" envPrefix:"APP_"`

	Log logger.Config `yaml:"log"`

	Storage struct {
		// memory | sqlite | postgres | none
		Driver       string `yaml:"driver" env:"DRIVER"`
		DSN          string `yaml:"dsn" env:"DSN"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
		MaxIdleConns int    `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
		// Migrate corre las migraciones embebidas al abrir la conexión.
		Migrate bool `yaml:"migrate" env:"MIGRATE"`
	} `yaml:"storage" envPrefix:"STORAGE_"`

	// Cache de discovery documents de los proveedores OIDC.
	Cache cache.Config `yaml:"cache" envPrefix:"CACHE_"`

	JWT JWT `yaml:"jwt" envPrefix:"JWT_"`

	Lockout struct {
		AllowedForNewUsers bool          `yaml:"allowed_for_new_users" env:"ALLOWED_FOR_NEW_USERS"`
		MaxFailedAttempts  int           `yaml:"max_failed_attempts" env:"MAX_FAILED_ATTEMPTS"`
		Duration           time.Duration `yaml:"duration" env:"DURATION"`
	} `yaml:"lockout" envPrefix:"LOCKOUT_"`

	PasswordPolicy struct {
		password.Policy `yaml:",inline"`
		// BlacklistPath: una contraseña por línea. Vacío => sin blacklist.
		BlacklistPath string `yaml:"blacklist_path" env:"BLACKLIST_PATH"`
	} `yaml:"password_policy" envPrefix:"PASSWORD_POLICY_"`

	TwoFactor struct {
		Issuer string `yaml:"issuer" env:"ISSUER"`
		// SecretKey cifra los secretos TOTP at-rest (32 bytes). Vacío => 2FA deshabilitado.
		SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	} `yaml:"two_factor" envPrefix:"TWO_FACTOR_"`

	AdminUser session.AdminUser `yaml:"admin_user" envPrefix:"ADMIN_USER_"`

	DefaultRoles []string `yaml:"default_roles" env:"DEFAULT_ROLES" envSeparator:","`

	// ExternalLogins desde env: JOHNID_EXTERNAL_LOGINS="Google=id:secret;Facebook=id:secret"
	ExternalLogins []providers.Config `yaml:"external_logins" env:"-"`

	PurposeTokens struct {
		TTL time.Duration `yaml:"ttl" env:"TTL"`
	} `yaml:"purpose_tokens" envPrefix:"PURPOSE_TOKENS_"`

	SMTP email.SMTPConfig `yaml:"smtp" envPrefix:"SMTP_"`
}

// JWT configura el Token Issuer. Las duraciones van en horas.
type JWT struct {
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// Audience vacío => igual al issuer.
	Audience     string `yaml:"audience" env:"AUDIENCE"`
	SecretKey    string `yaml:"secret_key" env:"SECRET_KEY"`
	AccessHours  int    `yaml:"access_hours" env:"ACCESS_HOURS"`
	RefreshHours int    `yaml:"refresh_hours" env:"REFRESH_HOURS"`
}

func (j JWT) AccessTTL() time.Duration  { return time.Duration(j.AccessHours) * time.Hour }
func (j JWT) RefreshTTL() time.Duration { return time.Duration(j.RefreshHours) * time.Hour }

// Default devuelve la configuración base sobre la que se aplican YAML y env.
func Default() *Config {
	var c Config
	c.App.Name = "johnid"
	c.App.Env = "dev"
	c.Log = logger.Config{Env: "dev", Level: "info", ServiceName: "johnid"}
	c.Storage.Driver = "memory"
	c.Storage.MaxOpenConns = 10
	c.Storage.MaxIdleConns = 2
	c.Cache = cache.Config{Kind: "memory", DefaultTTL: 24 * time.Hour}
	c.JWT.AccessHours = 1
	c.JWT.RefreshHours = 24 * 30
	c.Lockout.AllowedForNewUsers = true
	c.Lockout.MaxFailedAttempts = 5
	c.Lockout.Duration = 5 * time.Minute
	c.PasswordPolicy.Policy = password.Policy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true}
	c.TwoFactor.Issuer = "johnid"
	c.PurposeTokens.TTL = 24 * time.Hour
	c.SMTP.Port = 587
	c.SMTP.TLSMode = "auto"
	return &c
}

// Load arma la config: defaults, luego el YAML de path (si path != ""),
// luego las variables JOHNID_* y por último Validate.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnvOverrides pisa el YAML con las variables de entorno presentes.
func (c *Config) applyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	if s, ok := os.LookupEnv(EnvPrefix + "EXTERNAL_LOGINS"); ok {
		logins, err := parseExternalLogins(s)
		if err != nil {
			return err
		}
		c.ExternalLogins = logins
	}
	return nil
}

func (c *Config) normalize() {
	c.App.Env = strings.ToLower(strings.TrimSpace(c.App.Env))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.JWT.Issuer = strings.TrimSpace(c.JWT.Issuer)
	if strings.TrimSpace(c.JWT.Audience) == "" {
		c.JWT.Audience = c.JWT.Issuer
	}
	if c.App.Env == "prod" && c.Log.Env == "dev" {
		c.Log.Env = "prod"
	}
}

// Validate junta todos los problemas de configuración en un solo error.
func (c *Config) Validate() error {
	var err error
	if c.JWT.Issuer == "" {
		err = multierr.Append(err, fmt.Errorf("jwt.issuer is required"))
	}
	if len(c.JWT.SecretKey) < MinSecretKeyLen {
		err = multierr.Append(err, fmt.Errorf("jwt.secret_key must be at least %d bytes", MinSecretKeyLen))
	}
	if c.JWT.AccessHours <= 0 {
		err = multierr.Append(err, fmt.Errorf("jwt.access_hours must be > 0"))
	}
	if c.JWT.RefreshHours <= 0 {
		err = multierr.Append(err, fmt.Errorf("jwt.refresh_hours must be > 0"))
	}
	switch c.Storage.Driver {
	case "memory":
	case DriverNone:
		if c.AdminUser.UserName == "" {
			err = multierr.Append(err, fmt.Errorf("storage.driver %q requires admin_user", DriverNone))
		}
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			err = multierr.Append(err, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if k := c.TwoFactor.SecretKey; k != "" && len(k) != 32 {
		err = multierr.Append(err, fmt.Errorf("two_factor.secret_key must be exactly 32 bytes"))
	}
	if (c.AdminUser.UserName == "") != (c.AdminUser.Password == "") {
		err = multierr.Append(err, fmt.Errorf("admin_user needs both username and password"))
	}
	seen := map[string]bool{}
	for i, l := range c.ExternalLogins {
		k := strings.ToLower(strings.TrimSpace(l.Name))
		switch {
		case k == "":
			err = multierr.Append(err, fmt.Errorf("external_logins[%d].name is required", i))
		case seen[k]:
			err = multierr.Append(err, fmt.Errorf("external_logins: %q listed twice", l.Name))
		}
		seen[k] = true
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// parseExternalLogins lee "Name=clientId:clientSecret" separados por ';'.
// El secreto es opcional (solo Facebook lo exige).
func parseExternalLogins(s string) ([]providers.Config, error) {
	var out []providers.Config
	for _, it := range strings.Split(s, ";") {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		// split at first '='
		i := strings.IndexRune(it, '=')
		if i <= 0 {
			return nil, fmt.Errorf("config: external login %q: expected Name=clientId[:secret]", it)
		}
		id, secret, _ := strings.Cut(strings.TrimSpace(it[i+1:]), ":")
		out = append(out, providers.Config{
			Name:         strings.TrimSpace(it[:i]),
			ClientID:     strings.TrimSpace(id),
			ClientSecret: strings.TrimSpace(secret),
		})
	}
	return out, nil
}
