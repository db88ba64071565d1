package tokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	jwtx "github.com/dropDatabas3/johnid/internal/jwt"
	"github.com/dropDatabas3/johnid/internal/store/adapters/memory"
	"github.com/dropDatabas3/johnid/internal/store/storetest"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc  *Service
	conn *memory.Connection
	clk  *clock
	user *repository.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	iss, err := jwtx.NewIssuer("https://id.example", "", []byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}
	iss.SetClock(clk.Now)

	conn := memory.New()
	u := storetest.NewUser("alice", "a@x.com")
	require.NoError(t, conn.Users().Create(context.Background(), u))

	svc, err := New(Deps{
		Issuer:     iss,
		Users:      conn.Users(),
		Refresh:    conn.RefreshTokens(),
		RefreshTTL: 24 * time.Hour,
		Claims: func(ctx context.Context, u *repository.User) (*claims.Set, error) {
			return claims.NewSet(claims.Role("member")), nil
		},
	})
	require.NoError(t, err)
	return &fixture{svc: svc, conn: conn, clk: clk, user: u}
}

func (f *fixture) issue(t *testing.T, appID string) *AccessToken {
	t.Helper()
	at, err := f.svc.Issue(context.Background(), jwtx.AccessTokenData{
		AppID:     appID,
		UserID:    f.user.ID,
		UserName:  f.user.UserName,
		UserEmail: f.user.Email,
	}, true)
	require.NoError(t, err)
	require.NotNil(t, at.RefreshToken)
	return at
}

func TestIssue_DefaultsAppIDAndPersistsDigest(t *testing.T) {
	f := newFixture(t)
	at := f.issue(t, "")

	assert.Equal(t, claims.DefaultAppID, at.AppID)
	assert.Equal(t, f.clk.Now().Add(time.Hour), at.ExpireAt)
	assert.Equal(t, f.clk.Now().Add(24*time.Hour), at.RefreshToken.ExpireAt)

	rec, err := f.conn.RefreshTokens().Get(context.Background(), f.user.ID, claims.DefaultAppID)
	require.NoError(t, err)
	assert.NotEqual(t, at.RefreshToken.Token, rec.ValueHash, "only the digest is stored")
	assert.Equal(t, Scheme, rec.Scheme)
}

func TestIssueRefreshToken_RotatesPerApp(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t, "web")
	second := f.issue(t, "web")
	mobile := f.issue(t, "mobile")

	_, err := f.svc.RedeemRefreshToken(context.Background(), first.Token, first.RefreshToken.Token)
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized), "reissue invalidates the previous value")

	_, err = f.svc.RedeemRefreshToken(context.Background(), second.Token, second.RefreshToken.Token)
	assert.NoError(t, err)
	_, err = f.svc.RedeemRefreshToken(context.Background(), mobile.Token, mobile.RefreshToken.Token)
	assert.NoError(t, err, "sessions of other apps are independent")
}

func TestRedeem_AfterAccessTokenExpired(t *testing.T) {
	f := newFixture(t)
	at := f.issue(t, "web")
	f.clk.Advance(3 * time.Hour)

	next, err := f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
	require.NoError(t, err)
	assert.Equal(t, "web", next.AppID)
	assert.Equal(t, f.user.ID, next.UserID)
	require.NotNil(t, next.RefreshToken)
	assert.NotEqual(t, at.RefreshToken.Token, next.RefreshToken.Token)

	set, err := f.svc.Issuer().Verify(next.Token)
	require.NoError(t, err)
	assert.True(t, set.Contains(claims.Role("member")))
	assert.Equal(t, f.user.ID, set.Value(claims.TypeSubject))

	// el valor ya canjeado no vuelve a servir
	_, err = f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
}

func TestRedeem_ExpiredRecordRejected(t *testing.T) {
	f := newFixture(t)
	at := f.issue(t, "web")

	f.clk.Advance(24 * time.Hour) // expireAt == now
	_, err := f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
}

func TestRedeem_FailuresCollapseToUnauthorized(t *testing.T) {
	f := newFixture(t)
	at := f.issue(t, "web")

	other, err := jwtx.NewIssuer("https://id.example", "", []byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)
	forged, _, err := other.IssueAccessToken(jwtx.AccessTokenData{AppID: "web", UserID: f.user.ID, UserName: "alice"})
	require.NoError(t, err)

	noApp, _, err := f.svc.Issuer().IssueAccessToken(jwtx.AccessTokenData{UserID: f.user.ID})
	require.NoError(t, err)

	ghost, _, err := f.svc.Issuer().IssueAccessToken(jwtx.AccessTokenData{AppID: "web", UserID: "nobody", UserName: "nobody"})
	require.NoError(t, err)

	cases := map[string][2]string{
		"malformed jwt":   {"not.a.jwt", at.RefreshToken.Token},
		"forged jwt":      {forged, at.RefreshToken.Token},
		"missing name":    {noApp, at.RefreshToken.Token},
		"unknown user":    {ghost, at.RefreshToken.Token},
		"wrong value":     {at.Token, "wrong"},
		"other app value": {at.Token, f.issue(t, "mobile").RefreshToken.Token},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RedeemRefreshToken(context.Background(), c[0], c[1])
			require.Error(t, err)
			assert.True(t, errors.Is(err, autherrors.ErrUnauthorized), "%v", err)
		})
	}

	_, err = f.svc.RedeemRefreshToken(context.Background(), "", "x")
	assert.True(t, errors.Is(err, autherrors.ErrInvalidInput))
}

func TestRedeem_ConcurrentRedemptionsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	at := f.issue(t, "web")

	const n = 16
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		denials atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, autherrors.ErrUnauthorized):
				denials.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), denials.Load())
}

func TestRedeem_ClaimsLoaderFailuresAreStoreErrors(t *testing.T) {
	f := newFixture(t)
	at := f.issue(t, "web")

	var loaderErr error
	f.svc.deps.Claims = func(ctx context.Context, u *repository.User) (*claims.Set, error) {
		return nil, loaderErr
	}

	loaderErr = errors.New("connection reset")
	_, err := f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
	assert.True(t, errors.Is(err, autherrors.ErrStore), "got %v", err)
	assert.False(t, errors.Is(err, autherrors.ErrUnauthorized))

	loaderErr = context.Canceled
	_, err = f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
	assert.True(t, errors.Is(err, autherrors.ErrCanceled), "got %v", err)

	loaderErr = autherrors.ErrNotFound.WithDetail("role")
	_, err = f.svc.RedeemRefreshToken(context.Background(), at.Token, at.RefreshToken.Token)
	assert.True(t, errors.Is(err, autherrors.ErrNotFound), "classified errors pass through")
}

func TestStateless_RefreshNeedsStore(t *testing.T) {
	iss, err := jwtx.NewIssuer("iss", "", []byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	svc := NewStateless(iss, nil)

	at, err := svc.Issue(context.Background(), jwtx.AccessTokenData{UserID: "u"}, false)
	require.NoError(t, err)
	assert.Nil(t, at.RefreshToken)

	_, err = svc.IssueRefreshToken(context.Background(), "u", "web")
	assert.True(t, errors.Is(err, autherrors.ErrConfiguration))
	assert.NoError(t, svc.Revoke(context.Background(), "u", "web"))
}
