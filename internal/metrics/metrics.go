// Package metrics define las métricas Prometheus del core de identidad.
// Los métodos de *Metrics son nil-safe: un core sin métricas pasa nil.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes usados como label.
const (
	OutcomeSuccess           = "success"
	OutcomeUnauthorized      = "unauthorized"
	OutcomeLockedOut         = "locked_out"
	OutcomeTwoFactorRequired = "two_factor_required"
	OutcomeNoLinkedAccount   = "no_linked_account"
	OutcomeCanceled          = "canceled"
	OutcomeError             = "error"
)

// Metrics agrupa los collectors.
type Metrics struct {
	signIn          *prometheus.CounterVec
	refresh         *prometheus.CounterVec
	providerResults *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

// New crea y registra los collectors en reg (o el default si es nil).
// Si ya estaban registrados reutiliza los existentes.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "johnid_signin_total",
			Help: "Intentos de sign-in por método y resultado",
		}, []string{"method", "outcome"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "johnid_refresh_total",
			Help: "Canjes de refresh token por resultado",
		}, []string{"outcome"}),
		providerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "johnid_provider_validation_total",
			Help: "Validaciones contra providers externos por resultado",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "johnid_provider_request_seconds",
			Help:    "Latencia de las llamadas a providers externos",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	var err error
	if m.signIn, err = register(reg, m.signIn); err != nil {
		return nil, err
	}
	if m.refresh, err = register(reg, m.refresh); err != nil {
		return nil, err
	}
	if m.providerResults, err = register(reg, m.providerResults); err != nil {
		return nil, err
	}
	if m.providerLatency, err = register(reg, m.providerLatency); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// SignIn cuenta un intento de sign-in.
func (m *Metrics) SignIn(method, outcome string) {
	if m == nil {
		return
	}
	m.signIn.WithLabelValues(method, outcome).Inc()
}

// Refresh cuenta un canje de refresh token.
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(outcome).Inc()
}

// ProviderValidation cuenta una llamada a un provider y observa su latencia.
func (m *Metrics) ProviderValidation(provider, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerResults.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(took.Seconds())
}
