package store_test

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/domain/repository"
	autherrors "github.com/dropDatabas3/johnid/internal/errors"
	"github.com/dropDatabas3/johnid/internal/security/password"
	"github.com/dropDatabas3/johnid/internal/security/secretbox"
	"github.com/dropDatabas3/johnid/internal/security/totp"
	"github.com/dropDatabas3/johnid/internal/store"
	"github.com/dropDatabas3/johnid/internal/store/adapters/memory"
)

const strongPassword = "Correct1Horse"

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newCredentials(t *testing.T, box *secretbox.Box) (*store.Credentials, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := store.DefaultOptions()
	opts.Hash = password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 16}
	opts.Lockout.MaxFailedAttempts = 3
	opts.TokenTTL = time.Hour
	opts.TwoFactorIssuer = "johnid"
	opts.SecretBox = box
	opts.Now = clk.Now
	return store.NewCredentials(memory.New(), opts), clk
}

func newBox(t *testing.T) *secretbox.Box {
	t.Helper()
	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return box
}

func createUser(t *testing.T, c *store.Credentials, name, email string) *repository.User {
	t.Helper()
	u := &repository.User{UserName: name, Email: email}
	require.NoError(t, c.Create(context.Background(), u, strongPassword))
	return u
}

func fieldCodes(t *testing.T, err error) []string {
	t.Helper()
	var verr *autherrors.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	var out []string
	for _, f := range verr.Fields() {
		out = append(out, f.Code)
	}
	return out
}

func TestCreate_AggregatesValidationErrors(t *testing.T) {
	c, _ := newCredentials(t, nil)

	err := c.Create(context.Background(), &repository.User{UserName: "  "}, "short")
	codes := fieldCodes(t, err)
	assert.Contains(t, codes, "required")
	assert.Contains(t, codes, "password_"+password.ReasonTooShort)
	assert.Contains(t, codes, "password_"+password.ReasonMissingUpper)
	assert.Contains(t, codes, "password_"+password.ReasonMissingDigit)
}

func TestCreate_DuplicatesAreValidationErrors(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "alice", "alice@example.com")

	assert.NotEmpty(t, u.ID)
	assert.True(t, u.LockoutEnabled)
	assert.True(t, u.HasPassword())
	assert.NotEqual(t, strongPassword, u.PasswordHash)

	err := c.Create(ctx, &repository.User{UserName: "ALICE"}, strongPassword)
	assert.Equal(t, []string{"duplicate_user_name"}, fieldCodes(t, err))

	err = c.Create(ctx, &repository.User{UserName: "bob", Email: "Alice@Example.com"}, strongPassword)
	assert.Equal(t, []string{"duplicate_email"}, fieldCodes(t, err))

	// alta externa: sin password
	ext := &repository.User{UserName: "carol"}
	require.NoError(t, c.Create(ctx, ext, ""))
	assert.False(t, ext.HasPassword())
}

func TestCheckPasswordSignIn_Lockout(t *testing.T) {
	c, clk := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "dave", "")

	res, err := c.CheckPasswordSignIn(ctx, u, "wrong")
	require.NoError(t, err)
	assert.Equal(t, store.SignInFailed, res)

	res, _ = c.CheckPasswordSignIn(ctx, u, "wrong")
	assert.Equal(t, store.SignInFailed, res)

	res, _ = c.CheckPasswordSignIn(ctx, u, "wrong")
	assert.Equal(t, store.SignInLockedOut, res)

	// el password correcto no desbloquea mientras dure el lockout
	res, _ = c.CheckPasswordSignIn(ctx, u, strongPassword)
	assert.Equal(t, store.SignInLockedOut, res)
	assert.Equal(t, "locked_out", res.String())

	clk.Advance(6 * time.Minute)
	res, err = c.CheckPasswordSignIn(ctx, u, strongPassword)
	require.NoError(t, err)
	assert.Equal(t, store.SignInSucceeded, res)

	stored, err := c.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessFailedCount)
	assert.Nil(t, stored.LockoutEnd)
}

func TestCheckPasswordSignIn_FailureKeepsConcurrentPasswordChange(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "alice", "")

	// un sign-in leyó la credencial antes del cambio de password
	stale, err := c.FindByID(ctx, u.ID)
	require.NoError(t, err)
	fresh, err := c.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, c.ChangePassword(ctx, fresh, strongPassword, "Battery9Staple"))

	res, err := c.CheckPasswordSignIn(ctx, stale, "wrong")
	require.NoError(t, err)
	assert.Equal(t, store.SignInFailed, res)

	current, err := c.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.AccessFailedCount)
	res, err = c.CheckPasswordSignIn(ctx, current, strongPassword)
	require.NoError(t, err)
	assert.Equal(t, store.SignInFailed, res, "old password must stay replaced")

	current, err = c.FindByID(ctx, u.ID)
	require.NoError(t, err)
	res, err = c.CheckPasswordSignIn(ctx, current, "Battery9Staple")
	require.NoError(t, err)
	assert.Equal(t, store.SignInSucceeded, res)
}

func TestCheckPasswordSignIn_ConcurrentFailuresLockOut(t *testing.T) {
	c, clk := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "bob", "")

	const n = 5
	copies := make([]*repository.User, n)
	for i := range copies {
		cp, err := c.FindByID(ctx, u.ID)
		require.NoError(t, err)
		copies[i] = cp
	}

	var wg sync.WaitGroup
	for _, cp := range copies {
		wg.Add(1)
		go func(cp *repository.User) {
			defer wg.Done()
			_, err := c.CheckPasswordSignIn(ctx, cp, "wrong")
			assert.NoError(t, err)
		}(cp)
	}
	wg.Wait()

	stored, err := c.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LockoutEnd)
	assert.True(t, stored.IsLockedOut(clk.Now()))

	res, err := c.CheckPasswordSignIn(ctx, stored, strongPassword)
	require.NoError(t, err)
	assert.Equal(t, store.SignInLockedOut, res)
}

func TestCheckPasswordSignIn_NoPassword(t *testing.T) {
	c, _ := newCredentials(t, nil)
	u := &repository.User{UserName: "ext"}
	require.NoError(t, c.Create(context.Background(), u, ""))

	res, err := c.CheckPasswordSignIn(context.Background(), u, "")
	require.NoError(t, err)
	assert.Equal(t, store.SignInFailed, res)
}

func TestAddPassword_Conflict(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "erin", "")

	assert.ErrorIs(t, c.AddPassword(ctx, u, "Another1Pass"), autherrors.ErrSetPasswordConflict)

	ext := &repository.User{UserName: "frank"}
	require.NoError(t, c.Create(ctx, ext, ""))
	require.NoError(t, c.AddPassword(ctx, ext, "Another1Pass"))
	res, _ := c.CheckPasswordSignIn(ctx, ext, "Another1Pass")
	assert.Equal(t, store.SignInSucceeded, res)
}

func TestChangePassword(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "grace", "")

	err := c.ChangePassword(ctx, u, "bad", "Brand1NewPass")
	assert.Equal(t, []string{"password_mismatch"}, fieldCodes(t, err))

	require.NoError(t, c.ChangePassword(ctx, u, strongPassword, "Brand1NewPass"))
	res, _ := c.CheckPasswordSignIn(ctx, u, "Brand1NewPass")
	assert.Equal(t, store.SignInSucceeded, res)
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "heidi", "heidi@example.com")

	tok, err := c.GenerateResetPasswordToken(ctx, u)
	require.NoError(t, err)

	// password débil: el token sobrevive
	err = c.ResetPassword(ctx, u, tok, "weak")
	assert.Contains(t, fieldCodes(t, err), "password_"+password.ReasonTooShort)

	require.NoError(t, c.ResetPassword(ctx, u, tok, "Reset1Password"))
	err = c.ResetPassword(ctx, u, tok, "Again1Password")
	assert.Equal(t, []string{"invalid_token"}, fieldCodes(t, err))

	res, _ := c.CheckPasswordSignIn(ctx, u, "Reset1Password")
	assert.Equal(t, store.SignInSucceeded, res)
}

func TestPurposeTokens_ExpireAndBind(t *testing.T) {
	c, clk := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "ivan", "ivan@example.com")

	tok, err := c.GenerateChangeEmailToken(ctx, u, "new@example.com")
	require.NoError(t, err)

	// token emitido para otra casilla
	err = c.ChangeEmail(ctx, u, "other@example.com", tok)
	assert.Equal(t, []string{"invalid_token"}, fieldCodes(t, err))

	require.NoError(t, c.ChangeEmail(ctx, u, " New@Example.com ", tok))
	assert.Equal(t, "New@Example.com", u.Email)
	assert.True(t, u.EmailConfirmed)

	confirm, err := c.GenerateConfirmEmailToken(ctx, u)
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	err = c.ConfirmEmail(ctx, u, confirm)
	assert.Equal(t, []string{"invalid_token"}, fieldCodes(t, err))
}

func TestPhoneTokens_AreSixDigits(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "judy", "")

	code, err := c.GenerateChangePhoneToken(ctx, u, "+5491155550000")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	require.NoError(t, c.ChangePhoneNumber(ctx, u, "+5491155550000", code))
	assert.Equal(t, "+5491155550000", u.PhoneNumber)
	assert.False(t, u.PhoneNumberConfirmed)

	code, err = c.GenerateConfirmPhoneToken(ctx, u)
	require.NoError(t, err)
	require.NoError(t, c.ConfirmPhoneNumber(ctx, u, code))
	assert.True(t, u.PhoneNumberConfirmed)

	byPhone, err := c.FindByPhoneNumber(ctx, "+5491155550000")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byPhone.ID)
}

func TestLogins(t *testing.T) {
	c, _ := newCredentials(t, nil)
	ctx := context.Background()
	u := createUser(t, c, "kim", "")
	other := createUser(t, c, "leo", "")

	l := repository.ExternalLogin{Provider: "Google", ProviderKey: "g-1", DisplayName: "Google"}
	require.NoError(t, c.AddLogin(ctx, u, l))
	assert.Equal(t, []string{"login_already_associated"}, fieldCodes(t, c.AddLogin(ctx, other, l)))

	found, err := c.FindByLogin(ctx, "Google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	assert.Equal(t, []string{"login_not_found"}, fieldCodes(t, c.RemoveLogin(ctx, other, "Google", "g-1")))
	require.NoError(t, c.RemoveLogin(ctx, u, "Google", "g-1"))
}

func secretFromURL(t *testing.T, raw string) []byte {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	secret, err := totp.DecodeSecret(u.Query().Get("secret"))
	require.NoError(t, err)
	return secret
}

func TestTwoFactor_EnrollAndSignIn(t *testing.T) {
	c, clk := newCredentials(t, newBox(t))
	ctx := context.Background()
	u := createUser(t, c, "mallory", "")

	otpURL, err := c.EnableTwoFactor(ctx, u)
	require.NoError(t, err)
	secret := secretFromURL(t, otpURL)

	// sin confirmar, el gate sigue apagado
	res, _ := c.CheckPasswordSignIn(ctx, u, strongPassword)
	assert.Equal(t, store.SignInSucceeded, res)

	err = c.ConfirmTwoFactor(ctx, u, "12")
	assert.Equal(t, []string{"invalid_code"}, fieldCodes(t, err))
	assert.False(t, u.TwoFactorEnabled)

	code := totp.Code(secret, clk.Now())
	require.NoError(t, c.ConfirmTwoFactor(ctx, u, code))
	assert.True(t, u.TwoFactorEnabled)

	res, err = c.CheckPasswordSignIn(ctx, u, strongPassword)
	require.NoError(t, err)
	assert.Equal(t, store.SignInRequiresTwoFactor, res)

	// replay del código de confirmación
	res, err = c.CheckTwoFactorSignIn(ctx, u, strongPassword, code)
	require.NoError(t, err)
	assert.Equal(t, store.SignInFailed, res)

	clk.Advance(time.Minute)
	res, err = c.CheckTwoFactorSignIn(ctx, u, strongPassword, totp.Code(secret, clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, store.SignInSucceeded, res)

	require.NoError(t, c.DisableTwoFactor(ctx, u))
	res, _ = c.CheckPasswordSignIn(ctx, u, strongPassword)
	assert.Equal(t, store.SignInSucceeded, res)
}

func TestTwoFactor_RequiresSecretBox(t *testing.T) {
	c, _ := newCredentials(t, nil)
	u := createUser(t, c, "nina", "")

	_, err := c.EnableTwoFactor(context.Background(), u)
	assert.ErrorIs(t, err, autherrors.ErrConfiguration)
}

func TestTranslateError(t *testing.T) {
	assert.ErrorIs(t, store.TranslateError(repository.ErrNotFound), autherrors.ErrNotFound)
	assert.ErrorIs(t, store.TranslateError(context.Canceled), autherrors.ErrCanceled)
	assert.ErrorIs(t, store.TranslateError(context.DeadlineExceeded), autherrors.ErrCanceled)
	assert.ErrorIs(t, store.TranslateError(errors.New("disk full")), autherrors.ErrStore)
	assert.ErrorIs(t, store.TranslateError(repository.ErrDuplicateEmail), autherrors.ErrValidationFailed)
}

func TestCreate_AggregatesDuplicatesWithPolicy(t *testing.T) {
	c, _ := newCredentials(t, nil)
	createUser(t, c, "alice", "alice@example.com")

	err := c.Create(context.Background(), &repository.User{UserName: "alice", Email: "ALICE@example.com"}, "weak")
	codes := fieldCodes(t, err)
	assert.Contains(t, codes, "duplicate_user_name")
	assert.Contains(t, codes, "duplicate_email")
	assert.Contains(t, codes, "password_"+password.ReasonTooShort)
}
