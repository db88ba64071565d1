package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/providers"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	p := writeYAML(t, `
app:
  name: Acme
jwt:
  issuer: https://id.acme.test
  secret_key: `+secret+`
  access_hours: 2
lockout:
  allowed_for_new_users: false
  duration: 15m
password_policy:
  min_length: 12
  require_symbol: true
admin_user:
  username: root
  password: s3cret
default_roles: [member, reader]
external_logins:
  - name: Google
    client_id: g-client
  - name: Facebook
    client_id: fb-app
    client_secret: fb-secret
cache:
  kind: redis
  ttl: 1h
  redis:
    addr: localhost:6379
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "Acme", c.App.Name)
	assert.Equal(t, "https://id.acme.test", c.JWT.Audience, "audience defaults to issuer")
	assert.Equal(t, 2*time.Hour, c.JWT.AccessTTL())
	assert.Equal(t, 30*24*time.Hour, c.JWT.RefreshTTL())
	assert.False(t, c.Lockout.AllowedForNewUsers)
	assert.Equal(t, 5, c.Lockout.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, c.Lockout.Duration)
	assert.Equal(t, 12, c.PasswordPolicy.MinLength)
	assert.True(t, c.PasswordPolicy.RequireSymbol)
	assert.True(t, c.PasswordPolicy.RequireUpper, "unset keys keep defaults")
	assert.Equal(t, []string{"member", "reader"}, c.DefaultRoles)
	require.Len(t, c.ExternalLogins, 2)
	assert.Equal(t, "fb-secret", c.ExternalLogins[1].ClientSecret)
	assert.Equal(t, "redis", c.Cache.Kind)
	assert.Equal(t, time.Hour, c.Cache.DefaultTTL)
	assert.Equal(t, "memory", c.Storage.Driver)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	p := writeYAML(t, `
jwt:
  issuer: https://from-yaml
  secret_key: `+secret+`
`)
	t.Setenv("JOHNID_JWT_ISSUER", "https://from-env")
	t.Setenv("JOHNID_JWT_REFRESH_HOURS", "48")
	t.Setenv("JOHNID_STORAGE_DRIVER", "SQLite")
	t.Setenv("JOHNID_STORAGE_DSN", "file:johnid.db")
	t.Setenv("JOHNID_DEFAULT_ROLES", "member,editor")
	t.Setenv("JOHNID_ADMIN_USER_USERNAME", "root")
	t.Setenv("JOHNID_ADMIN_USER_PASSWORD", "pw")
	t.Setenv("JOHNID_SMTP_HOST", "smtp.acme.test")
	t.Setenv("JOHNID_EXTERNAL_LOGINS", "Microsoft=ms-client; Facebook=fb-app:fb-secret")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env", c.JWT.Issuer)
	assert.Equal(t, 48*time.Hour, c.JWT.RefreshTTL())
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, []string{"member", "editor"}, c.DefaultRoles)
	assert.Equal(t, "root", c.AdminUser.UserName)
	assert.True(t, c.SMTP.Enabled())
	assert.Equal(t, 587, c.SMTP.Port)
	require.Len(t, c.ExternalLogins, 2)
	assert.Equal(t, "Microsoft", c.ExternalLogins[0].Name)
	assert.Equal(t, "ms-client", c.ExternalLogins[0].ClientID)
	assert.Empty(t, c.ExternalLogins[0].ClientSecret)
	assert.Equal(t, "fb-secret", c.ExternalLogins[1].ClientSecret)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("JOHNID_JWT_ISSUER", "https://id")
	t.Setenv("JOHNID_JWT_SECRET_KEY", secret)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://id", c.JWT.Audience)
}

func TestValidate_ReportsEverything(t *testing.T) {
	c := Default()
	c.JWT.SecretKey = "short"
	c.JWT.AccessHours = 0
	c.Storage.Driver = "oracle"
	c.AdminUser.UserName = "root"
	c.TwoFactor.SecretKey = "nope"
	c.ExternalLogins = []providers.Config{{Name: "Google", ClientID: "a"}, {Name: "google", ClientID: "b"}, {ClientID: "c"}}

	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"jwt.issuer", "jwt.secret_key", "jwt.access_hours",
		"storage.driver", "two_factor.secret_key", "admin_user",
		"listed twice", "external_logins[2].name",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_StorelessNeedsAdmin(t *testing.T) {
	c := Default()
	c.JWT.Issuer = "https://id"
	c.JWT.SecretKey = secret
	c.Storage.Driver = DriverNone

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `storage.driver "none" requires admin_user`)

	c.AdminUser.UserName = "root"
	c.AdminUser.Password = "s3cret-admin"
	assert.NoError(t, c.Validate())
}

func TestParseExternalLogins_Malformed(t *testing.T) {
	_, err := parseExternalLogins("Google")
	assert.Error(t, err)

	out, err := parseExternalLogins(" ; Google=g ;")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "g", out[0].ClientID)
}
