package providers_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/metrics"
	"github.com/dropDatabas3/johnid/internal/providers"
	_ "github.com/dropDatabas3/johnid/internal/providers/all"
)

type stubProvider struct {
	sub string
	err error
}

func (s *stubProvider) Name() string { return "Stub" }

func (s *stubProvider) ValidateAccessToken(ctx context.Context, _ string) (string, error) {
	if s.err != nil {
		return "", providers.Unauthorized(ctx, s.err)
	}
	return s.sub, nil
}

func (s *stubProvider) FetchProfile(ctx context.Context, tok string) (*providers.Profile, error) {
	sub, err := s.ValidateAccessToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &providers.Profile{Subject: sub}, nil
}

var stub = &stubProvider{sub: "stub-1"}

func init() {
	providers.Register("Stub", func(providers.Config, providers.Deps) (providers.Provider, error) {
		return stub, nil
	})
}

func TestSupported_ListsAllVariants(t *testing.T) {
	assert.Subset(t, providers.Supported(), []string{"Facebook", "Google", "Microsoft"})
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		providers.Register("GOOGLE", nil)
	})
}

func TestRegistry_UnknownProviderIsNotSupported(t *testing.T) {
	r := providers.NewRegistry(nil, providers.Deps{})
	_, err := r.Get("LinkedIn")
	assert.True(t, errors.Is(err, autherrors.ErrNotSupported))
}

func TestRegistry_MissingConfigIsConfigurationError(t *testing.T) {
	r := providers.NewRegistry([]providers.Config{{Name: "Google", ClientID: "g-client"}}, providers.Deps{})

	_, err := r.Get("Facebook")
	assert.True(t, errors.Is(err, autherrors.ErrConfiguration))

	// facebook sin secret no se puede construir
	r = providers.NewRegistry([]providers.Config{{Name: "facebook", ClientID: "fb-app"}}, providers.Deps{})
	_, err = r.Get("Facebook")
	assert.True(t, errors.Is(err, autherrors.ErrConfiguration))
}

func TestRegistry_CachesInstancesCaseInsensitive(t *testing.T) {
	r := providers.NewRegistry([]providers.Config{{Name: "google", ClientID: "g-client"}}, providers.Deps{})

	a, err := r.Get("Google")
	require.NoError(t, err)
	b, err := r.Get("GOOGLE")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "Google", a.Name())
}

func TestRegistry_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := providers.NewRegistry([]providers.Config{{Name: "Stub", ClientID: "x"}}, providers.Deps{Metrics: m})
	p, err := r.Get("stub")
	require.NoError(t, err)

	sub, err := p.ValidateAccessToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "stub-1", sub)

	n, err := testutil.GatherAndCount(reg, "johnid_provider_validation_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnauthorized_MapsCancellationSeparately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := providers.Unauthorized(ctx, errors.New("dial tcp: i/o timeout"))
	assert.True(t, errors.Is(err, autherrors.ErrCanceled))
	assert.Equal(t, metrics.OutcomeCanceled, providers.Outcome(err))

	err = providers.Unauthorized(context.Background(), errors.New("bad signature"))
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
	assert.NotContains(t, err.(*autherrors.AppError).Message, "signature")
	assert.Equal(t, metrics.OutcomeUnauthorized, providers.Outcome(err))

	err = providers.Unauthorized(context.Background(), context.DeadlineExceeded)
	assert.True(t, errors.Is(err, autherrors.ErrCanceled))
}

func TestLooksLikeJWT(t *testing.T) {
	assert.True(t, providers.LooksLikeJWT("a.b.c"))
	assert.False(t, providers.LooksLikeJWT("ya29.opaque"))
}
