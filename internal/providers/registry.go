package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/johnid/internal/cache"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/metrics"
	"github.com/dropDatabas3/johnid/internal/observability/logger"
)

// Factory construye una variante a partir de su configuración.
type Factory func(cfg Config, deps Deps) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]registered{}
)

type registered struct {
	name    string
	factory Factory
}

// Register registra una variante. Llamar en init() de cada subpaquete.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	k := key(name)
	if _, exists := factories[k]; exists {
		panic(fmt.Sprintf("providers: %q already registered", name))
	}
	factories[k] = registered{name: name, factory: f}
}

// Supported retorna los nombres de variantes registradas, ordenados.
func Supported() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for _, r := range factories {
		out = append(out, r.name)
	}
	sort.Strings(out)
	return out
}

// Registry resuelve proveedores por nombre. Las instancias se construyen
// una vez y se comparten entre requests.
type Registry struct {
	deps    Deps
	configs map[string]Config

	mu        sync.Mutex
	instances map[string]Provider
}

// NewRegistry crea el registry con la configuración de despliegue.
func NewRegistry(cfgs []Config, deps Deps) *Registry {
	if deps.HTTP == nil {
		deps.HTTP = NewHTTPClient(DefaultHTTPTimeout)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(24 * time.Hour)
	}
	if deps.Logger == nil {
		deps.Logger = logger.L()
	}
	r := &Registry{
		deps:      deps,
		configs:   make(map[string]Config, len(cfgs)),
		instances: map[string]Provider{},
	}
	for _, c := range cfgs {
		r.configs[key(c.Name)] = c
	}
	return r
}

// Get devuelve el proveedor. Nombre desconocido => ErrNotSupported;
// variante conocida sin configuración => ErrConfiguration.
func (r *Registry) Get(name string) (Provider, error) {
	k := key(name)

	factoriesMu.RLock()
	reg, ok := factories[k]
	factoriesMu.RUnlock()
	if !ok {
		return nil, autherrors.ErrNotSupported.WithDetail("external provider " + name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.instances[k]; ok {
		return p, nil
	}
	cfg, ok := r.configs[k]
	if !ok || cfg.ClientID == "" {
		return nil, autherrors.ErrConfiguration.WithDetail("no login configuration for provider " + reg.name)
	}
	p, err := reg.factory(cfg, r.deps)
	if err != nil {
		return nil, autherrors.ErrConfiguration.WithCause(err)
	}
	p = &instrumented{Provider: p, log: r.deps.Logger, metrics: r.deps.Metrics}
	r.instances[k] = p
	return p, nil
}

// instrumented agrega logs y métricas alrededor de una variante.
type instrumented struct {
	Provider
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (i *instrumented) ValidateAccessToken(ctx context.Context, accessToken string) (string, error) {
	start := time.Now()
	sub, err := i.Provider.ValidateAccessToken(ctx, accessToken)
	i.observe(ctx, "ValidateAccessToken", start, err)
	return sub, err
}

func (i *instrumented) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	start := time.Now()
	p, err := i.Provider.FetchProfile(ctx, accessToken)
	i.observe(ctx, "FetchProfile", start, err)
	return p, err
}

func (i *instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	took := time.Since(start)
	outcome := Outcome(err)
	i.metrics.ProviderValidation(i.Name(), outcome, took)
	if err != nil {
		i.log.Debug("external provider rejected token",
			logger.Component("providers"), logger.Op(op), logger.Provider(i.Name()),
			logger.Outcome(outcome), logger.Duration(took), logger.Err(err))
	}
}

// Outcome mapea un error de proveedor a un label de métricas.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case autherrors.Code(err) == autherrors.ErrCanceled.Code:
		return metrics.OutcomeCanceled
	case autherrors.Code(err) == autherrors.ErrUnauthorized.Code:
		return metrics.OutcomeUnauthorized
	default:
		return metrics.OutcomeError
	}
}
