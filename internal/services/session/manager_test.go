package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/email"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	jwtx "github.com/dropDatabas3/johnid/internal/jwt"
	"github.com/dropDatabas3/johnid/internal/providers"
	"github.com/dropDatabas3/johnid/internal/security/password"
	"github.com/dropDatabas3/johnid/internal/security/secretbox"
	"github.com/dropDatabas3/johnid/internal/security/totp"
	"github.com/dropDatabas3/johnid/internal/services/admin"
	"github.com/dropDatabas3/johnid/internal/services/tokens"
	"github.com/dropDatabas3/johnid/internal/store"
	"github.com/dropDatabas3/johnid/internal/store/adapters/memory"
)

const secret = "0123456789abcdef0123456789abcdef"

// ─── fakes ───

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

// fakeProvider acepta los tokens de su mapa (token -> subject).
type fakeProvider struct {
	valid map[string]string
	calls int
	mu    sync.Mutex
}

func (p *fakeProvider) Name() string { return "Fake" }

func (p *fakeProvider) ValidateAccessToken(ctx context.Context, tok string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	sub, ok := p.valid[tok]
	if !ok {
		return "", providers.Unauthorized(ctx, errors.New("forged"))
	}
	return sub, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, tok string) (*providers.Profile, error) {
	sub, err := p.ValidateAccessToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &providers.Profile{Subject: sub, DisplayName: "Ana Gómez", Email: "ana@example.com"}, nil
}

var fake = &fakeProvider{valid: map[string]string{"fb-good": "ext-123", "fb-other": "ext-456"}}

func init() {
	providers.Register("Fake", func(providers.Config, providers.Deps) (providers.Provider, error) {
		return fake, nil
	})
}

type recordingBoundary struct {
	established []*tokens.AccessToken
	persistent  []bool
	invalidated []*claims.Set
}

func (b *recordingBoundary) Established(_ context.Context, at *tokens.AccessToken, persistent bool) error {
	b.established = append(b.established, at)
	b.persistent = append(b.persistent, persistent)
	return nil
}

func (b *recordingBoundary) Invalidated(_ context.Context, p *claims.Set) error {
	b.invalidated = append(b.invalidated, p)
	return nil
}

type outbox struct {
	to, text []string
}

func (o *outbox) Send(_ context.Context, to, _, _, text string) error {
	o.to = append(o.to, to)
	o.text = append(o.text, text)
	return nil
}

// ─── fixture ───

type fixture struct {
	m        *Manager
	creds    *store.Credentials
	admin    *admin.Service
	clk      *clock
	boundary *recordingBoundary
	outbox   *outbox
	issuer   *jwtx.Issuer
}

type option func(*store.Options, *Config)

func withoutLockout(o *store.Options, _ *Config) { o.Lockout.AllowedForNewUsers = false }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}

	box, err := secretbox.New([]byte(secret))
	require.NoError(t, err)
	so := store.DefaultOptions()
	so.Hash = password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 16}
	so.Lockout.MaxFailedAttempts = 3
	so.TokenTTL = time.Hour
	so.SecretBox = box
	so.TwoFactorIssuer = "johnid"
	so.Now = clk.Now
	cfg := Config{
		DefaultRoles: []string{"member"},
		Admin:        AdminUser{UserName: "root", Password: "s3cret-admin", Email: "root@example.com"},
	}
	for _, o := range opts {
		o(&so, &cfg)
	}

	conn := memory.New()
	creds := store.NewCredentials(conn, so)
	adm := admin.FromConnection(conn)
	require.NoError(t, adm.EnsureRoles(ctx, "member", "editor"))

	issuer, err := jwtx.NewIssuer("https://id.example", "", []byte(secret), time.Hour)
	require.NoError(t, err)
	issuer.SetClock(clk.Now)
	tok, err := tokens.New(tokens.Deps{
		Issuer:     issuer,
		Users:      conn.Users(),
		Refresh:    conn.RefreshTokens(),
		RefreshTTL: 24 * time.Hour,
		Claims:     adm.SessionClaims,
	})
	require.NoError(t, err)

	ob := &outbox{}
	mailer, err := email.NewMailer(ob, "Acme", time.Hour)
	require.NoError(t, err)
	b := &recordingBoundary{}
	m, err := New(Deps{
		Credentials: creds,
		Tokens:      tok,
		Admin:       adm,
		Providers:   providers.NewRegistry([]providers.Config{{Name: "Fake", ClientID: "fake-client"}}, providers.Deps{}),
		Mailer:      mailer,
		Boundary:    b,
		Config:      cfg,
	})
	require.NoError(t, err)
	return &fixture{m: m, creds: creds, admin: adm, clk: clk, boundary: b, outbox: ob, issuer: issuer}
}

func (f *fixture) signUp(t *testing.T, name, pass, mail string) *repository.User {
	t.Helper()
	u, err := f.m.SignUp(context.Background(), SignUp{UserName: name, Password: pass, Email: mail})
	require.NoError(t, err)
	return u
}

func (f *fixture) principal(t *testing.T, at *tokens.AccessToken) *claims.Set {
	t.Helper()
	p, err := f.m.Authenticate(at.Token)
	require.NoError(t, err)
	return p
}

func fieldCodes(t *testing.T, err error) []string {
	t.Helper()
	var verr *autherrors.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	var out []string
	for _, fe := range verr.Fields() {
		out = append(out, fe.Code)
	}
	return out
}

// ─── sign-up / sign-in ───

func TestSignUpThenSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.signUp(t, "alice", "Abcd1234!", "a@x.com")
	roles, err := f.admin.UserRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"member"}, roles)

	at, err := f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!"})
	require.NoError(t, err)
	assert.Equal(t, claims.DefaultAppID, at.AppID)
	assert.Nil(t, at.RefreshToken)

	set, err := f.issuer.Verify(at.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, set.Value(claims.TypeSubject))
	assert.Equal(t, u.ID, set.Value(claims.TypeNameID))
	assert.Equal(t, "Default", set.Value(claims.TypeAppID))
	assert.True(t, set.Contains(claims.Role("member")))
	assert.Equal(t, f.clk.Now().Add(time.Hour), at.ExpireAt)
}

func TestSignUp_MergesRolesAndClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.m.SignUp(ctx, SignUp{
		UserName: "bob",
		Password: "Abcd1234!",
		Roles:    []string{"editor", "MEMBER"},
		Claims:   []claims.Claim{claims.New("level", "3"), claims.New("level", "3")},
	})
	require.NoError(t, err)
	roles, err := f.admin.UserRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", "member"}, roles)
	cs, err := f.admin.UserClaims(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []claims.Claim{claims.New("level", "3")}, cs)
}

func TestSignUp_AggregatesAllValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "alice", "Abcd1234!", "a@x.com")

	_, err := f.m.SignUp(context.Background(), SignUp{
		UserName: "ALICE",
		Password: "short",
		Email:    "A@X.COM",
		Roles:    []string{"ghost"},
	})
	codes := fieldCodes(t, err)
	assert.Contains(t, codes, "duplicate_user_name")
	assert.Contains(t, codes, "duplicate_email")
	assert.Contains(t, codes, "password_"+password.ReasonTooShort)
	assert.Contains(t, codes, "role_not_found")

	_, err = f.m.SignUp(context.Background(), SignUp{UserName: "x"})
	assert.True(t, errors.Is(err, autherrors.ErrInvalidInput), "missing field fails before business rules")
}

func TestSignIn_WrongPasswordIsAlwaysUnauthorized(t *testing.T) {
	f := newFixture(t, withoutLockout)
	f.signUp(t, "alice", "Abcd1234!", "")

	for i := 0; i < 10; i++ {
		at, err := f.m.SignIn(context.Background(), Login{UserName: "alice", Password: "Wrong1234!"})
		assert.Nil(t, at)
		assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
	}
	_, err := f.m.SignIn(context.Background(), Login{UserName: "nobody", Password: "Abcd1234!"})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))

	_, err = f.m.SignIn(context.Background(), Login{UserName: "alice"})
	assert.True(t, errors.Is(err, autherrors.ErrInvalidInput))
}

func TestSignIn_LockedOut(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "alice", "Abcd1234!", "")
	ctx := context.Background()

	var err error
	for i := 0; i < 3; i++ {
		_, err = f.m.SignIn(ctx, Login{UserName: "alice", Password: "Wrong1234!"})
	}
	assert.True(t, errors.Is(err, autherrors.ErrLockedOut))

	_, err = f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!"})
	assert.True(t, errors.Is(err, autherrors.ErrLockedOut), "right password while locked")

	f.clk.Advance(6 * time.Minute)
	_, err = f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!"})
	assert.NoError(t, err)
}

func TestSignIn_TwoFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "alice", "Abcd1234!", "")

	at, err := f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!"})
	require.NoError(t, err)
	p := f.principal(t, at)

	otpURL, err := f.m.EnableTwoFactor(ctx, p)
	require.NoError(t, err)
	parsed, err := url.Parse(otpURL)
	require.NoError(t, err)
	raw, err := totp.DecodeSecret(parsed.Query().Get("secret"))
	require.NoError(t, err)

	require.NoError(t, f.m.ConfirmTwoFactor(ctx, p, totp.Code(raw, f.clk.Now())))

	_, err = f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!"})
	assert.True(t, errors.Is(err, autherrors.ErrTwoFactorRequired))

	f.clk.Advance(time.Minute)
	at, err = f.m.SignInTwoFactor(ctx, LoginTwoFactor{
		Login: Login{UserName: "alice", Password: "Abcd1234!", AppID: "web"},
		Code:  totp.Code(raw, f.clk.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, "web", at.AppID)

	require.NoError(t, f.m.DisableTwoFactor(ctx, p))
	_, err = f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!"})
	assert.NoError(t, err)
}

// ─── admin ───

func TestSignInAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at, err := f.m.SignInAdmin(ctx, "root", "s3cret-admin")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil.String(), at.UserID)
	assert.Nil(t, at.RefreshToken)
	set, err := f.issuer.Verify(at.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{AdministratorRole}, set.Values(claims.TypeRole))
	assert.Equal(t, AdminUserID, set.Value(claims.TypeSubject))

	for _, c := range [][2]string{{"root", "s3cret-admin "}, {"Root", "s3cret-admin"}, {"root", "wrong"}} {
		_, err := f.m.SignInAdmin(ctx, c[0], c[1])
		assert.True(t, errors.Is(err, autherrors.ErrUnauthorized), "%v", c)
	}

	// con store, el admin estático no entra por el camino normal
	_, err = f.m.SignIn(ctx, Login{UserName: "root", Password: "s3cret-admin"})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
}

func TestStoreless_SignInDelegatesToAdmin(t *testing.T) {
	issuer, err := jwtx.NewIssuer("https://id.example", "", []byte(secret), time.Hour)
	require.NoError(t, err)
	m, err := New(Deps{
		Tokens: tokens.NewStateless(issuer, nil),
		Config: Config{Admin: AdminUser{UserName: "root", Password: "s3cret-admin"}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	at, err := m.SignIn(ctx, Login{UserName: "root", Password: "s3cret-admin", Refreshable: true})
	require.NoError(t, err)
	assert.Nil(t, at.RefreshToken)

	_, err = m.SignIn(ctx, Login{UserName: "root", Password: "nope"})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))

	p, err := m.Authenticate(at.Token)
	require.NoError(t, err)
	assert.NoError(t, m.SignOut(ctx, p))
	assert.True(t, errors.Is(m.SignOut(ctx, claims.NewSet(claims.New(claims.TypeName, "root"))), autherrors.ErrUnauthorized))

	_, err = m.SignUp(ctx, SignUp{UserName: "a", Password: "b"})
	assert.True(t, errors.Is(err, autherrors.ErrNotSupported))
}

func TestSignInAdmin_NotConfigured(t *testing.T) {
	f := newFixture(t, func(_ *store.Options, c *Config) { c.Admin = AdminUser{} })
	_, err := f.m.SignInAdmin(context.Background(), "", "")
	assert.True(t, errors.Is(err, autherrors.ErrConfiguration))
}

// ─── external ───

func TestSignInExternal_LinkFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.SignInExternal(ctx, LoginExternal{Provider: "fake", AccessToken: "fb-good"})
	assert.True(t, errors.Is(err, autherrors.ErrNoLinkedAccount))

	u, err := f.m.SignUpExternal(ctx, SignUpExternal{
		Email:         "ana@example.com",
		ExternalLogin: ExternalLogin{Provider: "fake", AccessToken: "fb-good"},
	})
	require.NoError(t, err)
	assert.False(t, u.HasPassword())
	assert.Equal(t, "ana@example.com", u.UserName)

	at, err := f.m.SignInExternal(ctx, LoginExternal{Provider: "FAKE", AccessToken: "fb-good", AppID: "mobile", RememberMe: true, Refreshable: true})
	require.NoError(t, err)
	assert.Equal(t, u.ID, at.UserID)
	assert.Equal(t, "mobile", at.AppID)
	require.NotNil(t, at.RefreshToken)
	assert.Equal(t, []bool{true}, f.boundary.persistent)

	// el mismo sujeto no se puede vincular dos veces
	_, err = f.m.SignUpExternal(ctx, SignUpExternal{
		Email:         "other@example.com",
		ExternalLogin: ExternalLogin{Provider: "fake", AccessToken: "fb-good"},
	})
	assert.Contains(t, fieldCodes(t, err), "login_already_associated")

	// SetPassword solo para cuentas sin password
	p := f.principal(t, at)
	require.NoError(t, f.m.SetPassword(ctx, p, "Abcd1234!"))
	assert.True(t, errors.Is(f.m.SetPassword(ctx, p, "Other1234!"), autherrors.ErrSetPasswordConflict))

	require.NoError(t, f.m.RemoveExternalLogin(ctx, p, "fake", "ext-123"))
	_, err = f.m.SignInExternal(ctx, LoginExternal{Provider: "fake", AccessToken: "fb-good"})
	assert.True(t, errors.Is(err, autherrors.ErrNoLinkedAccount))
}

func TestSignInExternal_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.SignInExternal(ctx, LoginExternal{Provider: "fake", AccessToken: "forged"})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))

	_, err = f.m.SignInExternal(ctx, LoginExternal{Provider: "LinkedIn", AccessToken: "x"})
	assert.True(t, errors.Is(err, autherrors.ErrNotSupported))

	_, err = f.m.SignInExternal(ctx, LoginExternal{Provider: "Google", AccessToken: "x"})
	assert.True(t, errors.Is(err, autherrors.ErrNotSupported), "google variant not linked into this binary")

	_, err = f.m.SignInExternalTransient(ctx, LoginExternalTransient{Provider: "fake", AccessToken: "forged"})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
}

func TestSignInExternalTransient_NoStore(t *testing.T) {
	issuer, err := jwtx.NewIssuer("https://id.example", "", []byte(secret), time.Hour)
	require.NoError(t, err)
	m, err := New(Deps{
		Tokens:    tokens.NewStateless(issuer, nil),
		Providers: providers.NewRegistry([]providers.Config{{Name: "Fake", ClientID: "c"}}, providers.Deps{}),
	})
	require.NoError(t, err)

	at, err := m.SignInExternalTransient(context.Background(), LoginExternalTransient{
		Provider:    "Fake",
		AccessToken: "fb-other",
		Claims:      []claims.Claim{claims.New("plan", "pro"), claims.Role("viewer")},
		Roles:       []string{"viewer", "Viewer", "editor"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ext-456", at.UserID)

	set, err := issuer.Verify(at.Token)
	require.NoError(t, err)
	assert.Equal(t, "ext-456", set.Value(claims.TypeSubject))
	assert.Equal(t, "ana@example.com", set.Value(claims.TypeEmail))
	assert.Equal(t, "Ana Gómez", set.Value(claims.TypeName))
	assert.Equal(t, "pro", set.Value("plan"))
	assert.ElementsMatch(t, []string{"viewer", "editor"}, set.Values(claims.TypeRole))
}

// ─── refresh / sign-out ───

func TestRefreshAndSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signUp(t, "alice", "Abcd1234!", "")

	at, err := f.m.SignIn(ctx, Login{UserName: "alice", Password: "Abcd1234!", AppID: "web", Refreshable: true})
	require.NoError(t, err)
	require.NotNil(t, at.RefreshToken)

	f.clk.Advance(2 * time.Hour)
	next, err := f.m.Refresh(ctx, LoginRefresh{Token: at.Token, RefreshToken: at.RefreshToken.Token})
	require.NoError(t, err)

	_, err = f.m.Refresh(ctx, LoginRefresh{Token: at.Token, RefreshToken: at.RefreshToken.Token})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized), "rotated value cannot be replayed")

	require.NoError(t, f.m.SignOut(ctx, f.principal(t, next)))
	require.Len(t, f.boundary.invalidated, 1)

	_, err = f.m.Refresh(ctx, LoginRefresh{Token: next.Token, RefreshToken: next.RefreshToken.Token})
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized), "sign-out revokes the refresh token")

	err = f.m.SignOut(ctx, claims.NewSet(claims.New(claims.TypeName, "ghost")))
	assert.True(t, errors.Is(err, autherrors.ErrNotFound))
	err = f.m.SignOut(ctx, claims.NewSet())
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
}

func TestAuthenticate_RejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	other, err := jwtx.NewIssuer("https://id.example", "", []byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)
	tok, _, err := other.IssueAccessToken(jwtx.AccessTokenData{UserID: "u", UserName: "alice"})
	require.NoError(t, err)

	_, err = f.m.Authenticate(tok)
	assert.True(t, errors.Is(err, autherrors.ErrUnauthorized))
}

func TestSignUp_RejectsInvalidClaimTypesBeforeCreating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.SignUp(ctx, SignUp{UserName: "carol", Password: "Abcd1234!", Claims: []claims.Claim{claims.New("bad type", "1")}})
	assert.Contains(t, fieldCodes(t, err), "invalid_claim_type")

	_, err = f.creds.FindByName(ctx, "carol")
	assert.True(t, repository.IsNotFound(err))
}

// brokenRoles falla al asignar roles; el resto delega en el store real.
type brokenRoles struct{ repository.RoleRepository }

func (brokenRoles) AddUserToRole(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestSignUp_RollsBackUserWhenAssignmentFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := f.creds.Conn()
	m, err := New(Deps{
		Credentials: f.creds,
		Tokens:      f.m.deps.Tokens,
		Admin:       admin.New(admin.Deps{Roles: brokenRoles{conn.Roles()}, Claims: conn.Claims()}),
		Providers:   f.m.deps.Providers,
		Config:      f.m.deps.Config,
	})
	require.NoError(t, err)

	_, err = m.SignUp(ctx, SignUp{UserName: "zoe", Password: "Abcd1234!", Email: "zoe@example.com"})
	require.Error(t, err)
	_, err = f.creds.FindByName(ctx, "zoe")
	assert.True(t, repository.IsNotFound(err), "half-created user must be removed")

	_, err = m.SignUpExternal(ctx, SignUpExternal{
		Email:         "ana@example.com",
		ExternalLogin: ExternalLogin{Provider: "fake", AccessToken: "fb-good"},
	})
	require.Error(t, err)
	_, err = f.creds.FindByLogin(ctx, "Fake", "ext-123")
	assert.True(t, repository.IsNotFound(err))

	// con el store sano el mismo alta funciona: no quedó nada ocupado
	f.signUp(t, "zoe", "Abcd1234!", "zoe@example.com")
	_, err = f.m.SignUpExternal(ctx, SignUpExternal{
		Email:         "ana@example.com",
		ExternalLogin: ExternalLogin{Provider: "fake", AccessToken: "fb-good"},
	})
	require.NoError(t, err)
}
