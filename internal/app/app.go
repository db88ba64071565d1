// Package app arma el core de identidad a partir de la configuración:
// store, emisor de tokens, proveedores externos, administración de roles,
// métricas, email y el Session Manager.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/audit"
	"github.com/dropDatabas3/johnid/internal/cache"
	"github.com/dropDatabas3/johnid/internal/config"
	"github.com/dropDatabas3/johnid/internal/email"
	jwtx "github.com/dropDatabas3/johnid/internal/jwt"
	"github.com/dropDatabas3/johnid/internal/metrics"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
	"github.com/dropDatabas3/johnid/internal/providers"
	_ "github.com/dropDatabas3/johnid/internal/providers/all"
	"github.com/dropDatabas3/johnid/internal/security/password"
	"github.com/dropDatabas3/johnid/internal/security/secretbox"
	"github.com/dropDatabas3/johnid/internal/services/admin"
	"github.com/dropDatabas3/johnid/internal/services/session"
	"github.com/dropDatabas3/johnid/internal/services/tokens"
	"github.com/dropDatabas3/johnid/internal/store"
	_ "github.com/dropDatabas3/johnid/internal/store/adapters/dal"
)

// Deps son colaboradores opcionales que el caller puede inyectar.
type Deps struct {
	// Registerer para las métricas. nil => prometheus.NewRegistry().
	Registerer prometheus.Registerer
	// Sender reemplaza al SMTP configurado (tests, otros canales).
	Sender email.Sender
	// Boundary recibe las sesiones emitidas e invalidadas. nil => audit log.
	Boundary session.Boundary
}

// Container es la aplicación cableada.
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Conn        store.AdapterConnection
	Credentials *store.Credentials
	Admin       *admin.Service
	Issuer      *jwtx.Issuer
	Tokens      *tokens.Service
	Providers   *providers.Registry
	Metrics     *metrics.Metrics
	Mailer      *email.Mailer
	Session     *session.Manager

	cache cache.Client
}

// New abre el store, corre migraciones si se pidieron, crea los roles por
// defecto y arma el Session Manager. Con storage.driver "none" no hay store:
// el manager queda en modo admin-only.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Container, error) {
	log := logger.L().With(logger.Layer("app"))
	c := &Container{Config: cfg, Logger: log}

	// 1. Métricas
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	c.Metrics = m

	// 2. Store (driver "none" => solo admin y sign-in externo transitorio)
	storeless := cfg.Storage.Driver == config.DriverNone
	if !storeless {
		if err := c.openStore(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}

	// 3. Tokens
	c.Issuer, err = jwtx.NewIssuer(cfg.JWT.Issuer, cfg.JWT.Audience, []byte(cfg.JWT.SecretKey), cfg.JWT.AccessTTL())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("app: issuer: %w", err)
	}
	if storeless {
		c.Tokens = tokens.NewStateless(c.Issuer, m)
	} else {
		c.Tokens, err = tokens.New(tokens.Deps{
			Issuer:     c.Issuer,
			Users:      c.Conn.Users(),
			Refresh:    c.Conn.RefreshTokens(),
			RefreshTTL: cfg.JWT.RefreshTTL(),
			Claims:     c.Admin.SessionClaims,
			Metrics:    m,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("app: tokens: %w", err)
		}
	}

	// 4. Proveedores externos (discovery cacheado)
	c.cache, err = cache.New(ctx, cfg.Cache)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	c.Providers = providers.NewRegistry(cfg.ExternalLogins, providers.Deps{
		Cache:   c.cache,
		Logger:  log,
		Metrics: m,
	})

	// 5. Email
	sender := deps.Sender
	if sender == nil && cfg.SMTP.Enabled() {
		sender = email.NewSMTPSender(cfg.SMTP)
	}
	if sender != nil {
		c.Mailer, err = email.NewMailer(sender, cfg.App.Name, cfg.PurposeTokens.TTL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("app: email templates: %w", err)
		}
	}

	// 6. Session Manager
	boundary := deps.Boundary
	if boundary == nil {
		boundary = audit.New(log)
	}
	c.Session, err = session.New(session.Deps{
		Credentials: c.Credentials,
		Tokens:      c.Tokens,
		Admin:       c.Admin,
		Providers:   c.Providers,
		Mailer:      c.Mailer,
		Boundary:    boundary,
		Metrics:     m,
		Config: session.Config{
			DefaultRoles: cfg.DefaultRoles,
			Admin:        cfg.AdminUser,
		},
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	storage := config.DriverNone
	if c.Conn != nil {
		storage = c.Conn.Name()
	}
	log.Info("identity core ready",
		logger.String("storage", storage),
		logger.String("cache", cfg.Cache.Kind),
		logger.Count(len(cfg.ExternalLogins)),
	)
	return c, nil
}

// openStore abre el adapter, migra si se pidió, arma el Credential Store y
// asegura los roles por defecto.
func (c *Container) openStore(ctx context.Context) error {
	cfg := c.Config
	conn, err := store.OpenAdapter(ctx, store.AdapterConfig{
		Name:         cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("app: open store: %w", err)
	}
	c.Conn = conn
	if cfg.Storage.Migrate {
		if _, err := c.Migrate(ctx); err != nil {
			return err
		}
	}

	opts, err := storeOptions(cfg)
	if err != nil {
		return err
	}
	c.Credentials = store.NewCredentials(conn, opts)
	c.Admin = admin.FromConnection(conn)
	if err := c.Admin.EnsureRoles(ctx, append([]string{session.AdministratorRole}, cfg.DefaultRoles...)...); err != nil {
		return fmt.Errorf("app: default roles: %w", err)
	}
	return nil
}

// Migrate aplica las migraciones embebidas del adapter, si las tiene.
func (c *Container) Migrate(ctx context.Context) (*store.MigrationResult, error) {
	mc, ok := c.Conn.(store.MigratableConnection)
	if !ok {
		return &store.MigrationResult{}, nil
	}
	res, err := mc.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	c.Logger.Info("migrations applied",
		logger.String("storage", c.Conn.Name()),
		logger.Count(len(res.Applied)),
		logger.Duration(res.Duration),
	)
	return res, nil
}

// Close libera store y cache.
func (c *Container) Close() error {
	var errs []error
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	if c.Conn != nil {
		errs = append(errs, c.Conn.Close())
	}
	return errors.Join(errs...)
}

func storeOptions(cfg *config.Config) (store.Options, error) {
	opts := store.DefaultOptions()
	opts.Policy = cfg.PasswordPolicy.Policy
	opts.Lockout = store.LockoutOptions{
		AllowedForNewUsers: cfg.Lockout.AllowedForNewUsers,
		MaxFailedAttempts:  cfg.Lockout.MaxFailedAttempts,
		Duration:           cfg.Lockout.Duration,
	}
	opts.TokenTTL = cfg.PurposeTokens.TTL
	opts.TwoFactorIssuer = cfg.TwoFactor.Issuer

	if p := cfg.PasswordPolicy.BlacklistPath; p != "" {
		bl, err := password.LoadBlacklist(p)
		if err != nil {
			return opts, fmt.Errorf("app: password blacklist: %w", err)
		}
		opts.Policy.Blacklist = bl
	}
	if k := cfg.TwoFactor.SecretKey; k != "" {
		box, err := secretbox.New([]byte(k))
		if err != nil {
			return opts, fmt.Errorf("app: two-factor key: %w", err)
		}
		opts.SecretBox = box
	}
	return opts, nil
}
