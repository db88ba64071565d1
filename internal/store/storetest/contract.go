// Package storetest contiene la suite de contrato que todo adapter de
// store debe pasar. Cada adapter la corre desde su propio _test.go.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/store"
)

// Opener devuelve una conexión vacía, lista para usar.
type Opener func(t *testing.T) store.AdapterConnection

// Run ejecuta la suite completa contra el adapter.
func Run(t *testing.T, open Opener) {
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("UserDelete", func(t *testing.T) { testUserDelete(t, open(t)) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, open(t)) })
	t.Run("Claims", func(t *testing.T) { testClaims(t, open(t)) })
	t.Run("ExternalLogins", func(t *testing.T) { testLogins(t, open(t)) })
	t.Run("RefreshTokens", func(t *testing.T) { testRefresh(t, open(t)) })
	t.Run("RefreshReplaceRace", func(t *testing.T) { testRefreshRace(t, open(t)) })
	t.Run("AccessFailureRace", func(t *testing.T) { testAccessFailureRace(t, open(t)) })
	t.Run("PurposeTokens", func(t *testing.T) { testPurpose(t, open(t)) })
	t.Run("TwoFactor", func(t *testing.T) { testTwoFactor(t, open(t)) })
}

// NewUser arma un usuario mínimo con timestamps redondeados a milisegundos.
func NewUser(name, email string) *repository.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &repository.User{
		ID:        uuid.NewString(),
		UserName:  name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustUser(t *testing.T, conn store.AdapterConnection, name, email string) *repository.User {
	t.Helper()
	u := NewUser(name, email)
	require.NoError(t, conn.Users().Create(context.Background(), u))
	return u
}

func testUsers(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	users := conn.Users()

	u := NewUser("alice", "Alice@Example.com")
	u.PasswordHash = "$argon2id$stub"
	u.LockoutEnabled = true
	require.NoError(t, users.Create(ctx, u))

	got, err := users.GetByUserName(ctx, "  ALICE ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "alice", got.UserName)
	assert.True(t, got.LockoutEnabled)
	assert.True(t, got.HasPassword())
	assert.WithinDuration(t, u.CreatedAt, got.CreatedAt, time.Millisecond)

	got, err = users.GetByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.GetByEmail(ctx, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// duplicados, case-insensitive
	dup := NewUser("ALICE", "other@example.com")
	assert.ErrorIs(t, users.Create(ctx, dup), repository.ErrDuplicateUserName)
	dup = NewUser("bob", "ALICE@example.com")
	assert.ErrorIs(t, users.Create(ctx, dup), repository.ErrDuplicateEmail)

	// varios usuarios sin email conviven
	mustUser(t, conn, "noemail1", "")
	mustUser(t, conn, "noemail2", "")

	// el contador solo cambia con RecordAccessFailure / ResetAccessFailures
	now := time.Now().UTC().Truncate(time.Millisecond)
	end := now.Add(5 * time.Minute)
	st, err := users.RecordAccessFailure(ctx, got.ID, 2, end, now)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)
	assert.Nil(t, st.LockoutEnd)
	st, err = users.RecordAccessFailure(ctx, got.ID, 2, end, now)
	require.NoError(t, err)
	assert.Zero(t, st.Count)
	require.NotNil(t, st.LockoutEnd)
	assert.WithinDuration(t, end, *st.LockoutEnd, time.Millisecond)

	// un Update con una copia leída antes no pisa el lockout
	got.PhoneNumber = "+5491100000000"
	require.NoError(t, users.Update(ctx, got))
	again, err := users.GetByPhoneNumber(ctx, "+5491100000000")
	require.NoError(t, err)
	require.NotNil(t, again.LockoutEnd)
	assert.WithinDuration(t, end, *again.LockoutEnd, time.Millisecond)

	require.NoError(t, users.ResetAccessFailures(ctx, got.ID, now))
	again, err = users.GetByID(ctx, got.ID)
	require.NoError(t, err)
	assert.Zero(t, again.AccessFailedCount)
	assert.Nil(t, again.LockoutEnd)

	_, err = users.RecordAccessFailure(ctx, "missing", 2, end, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, users.ResetAccessFailures(ctx, "missing", now), repository.ErrNotFound)

	// renombrar a un nombre tomado
	other := mustUser(t, conn, "carol", "carol@example.com")
	other.UserName = "Alice"
	assert.ErrorIs(t, users.Update(ctx, other), repository.ErrDuplicateUserName)

	ghost := NewUser("ghost", "")
	assert.ErrorIs(t, users.Update(ctx, ghost), repository.ErrNotFound)
}

func testUserDelete(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	users := conn.Users()
	u := mustUser(t, conn, "kate", "kate@example.com")
	role := &repository.Role{ID: uuid.NewString(), Name: "Member", CreatedAt: time.Now().UTC()}
	require.NoError(t, conn.Roles().CreateRole(ctx, role))
	require.NoError(t, conn.Roles().AddUserToRole(ctx, u.ID, role.ID))
	require.NoError(t, conn.Claims().AddUserClaims(ctx, u.ID, []claims.Claim{claims.New("tier", "gold")}))
	require.NoError(t, conn.ExternalLogins().AddLogin(ctx, u.ID, repository.ExternalLogin{Provider: "Google", ProviderKey: "g-kate"}))
	require.NoError(t, conn.RefreshTokens().Upsert(ctx, repository.RefreshToken{
		UserID: u.ID, AppID: "Default", ValueHash: "h", Scheme: "Bearer", ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	require.NoError(t, users.Delete(ctx, u.ID))

	_, err := users.GetByID(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = conn.ExternalLogins().FindUserByLogin(ctx, "Google", "g-kate")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = conn.RefreshTokens().Get(ctx, u.ID, "Default")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, users.Delete(ctx, u.ID), repository.ErrNotFound)

	// el nombre y el email quedan libres
	mustUser(t, conn, "kate", "kate@example.com")
}

func testRoles(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	roles := conn.Roles()
	u := mustUser(t, conn, "dave", "dave@example.com")

	admin := &repository.Role{ID: uuid.NewString(), Name: "Administrator", CreatedAt: time.Now().UTC()}
	editor := &repository.Role{ID: uuid.NewString(), Name: "Editor", CreatedAt: time.Now().UTC()}
	require.NoError(t, roles.CreateRole(ctx, editor))
	require.NoError(t, roles.CreateRole(ctx, admin))
	assert.ErrorIs(t, roles.CreateRole(ctx, &repository.Role{ID: uuid.NewString(), Name: "editor"}), repository.ErrConflict)

	list, err := roles.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Administrator", list[0].Name)

	got, err := roles.GetRoleByName(ctx, "administrator")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, got.ID)

	require.NoError(t, roles.AddUserToRole(ctx, u.ID, editor.ID))
	require.NoError(t, roles.AddUserToRole(ctx, u.ID, admin.ID))
	assert.ErrorIs(t, roles.AddUserToRole(ctx, u.ID, admin.ID), repository.ErrConflict)
	assert.ErrorIs(t, roles.AddUserToRole(ctx, u.ID, "missing"), repository.ErrNotFound)

	names, err := roles.UserRoleNames(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Administrator", "Editor"}, names)

	require.NoError(t, roles.RemoveUserFromRole(ctx, u.ID, editor.ID))
	assert.ErrorIs(t, roles.RemoveUserFromRole(ctx, u.ID, editor.ID), repository.ErrNotFound)

	// borrar un rol limpia sus asignaciones
	require.NoError(t, roles.DeleteRole(ctx, admin.ID))
	names, err = roles.UserRoleNames(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.ErrorIs(t, roles.DeleteRole(ctx, admin.ID), repository.ErrNotFound)
}

func testClaims(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	cl := conn.Claims()
	u := mustUser(t, conn, "erin", "erin@example.com")

	require.NoError(t, cl.AddUserClaims(ctx, u.ID, []claims.Claim{
		claims.New("locale", "es"),
		claims.New("department", "ops"),
		claims.New("department", "eng"),
	}))
	// repetido: no duplica
	require.NoError(t, cl.AddUserClaims(ctx, u.ID, []claims.Claim{claims.New("locale", "es")}))

	got, err := cl.UserClaims(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []claims.Claim{
		claims.New("department", "eng"),
		claims.New("department", "ops"),
		claims.New("locale", "es"),
	}, got)

	require.NoError(t, cl.RemoveUserClaims(ctx, u.ID, []claims.Claim{claims.New("department", "ops")}))
	got, err = cl.UserClaims(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.ErrorIs(t, cl.AddUserClaims(ctx, "missing", []claims.Claim{claims.New("a", "b")}), repository.ErrNotFound)

	role := &repository.Role{ID: uuid.NewString(), Name: "Auditor", CreatedAt: time.Now().UTC()}
	require.NoError(t, conn.Roles().CreateRole(ctx, role))
	require.NoError(t, cl.AddRoleClaims(ctx, role.ID, []claims.Claim{claims.New("permission", "audit.read")}))
	rc, err := cl.RoleClaims(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []claims.Claim{claims.New("permission", "audit.read")}, rc)

	require.NoError(t, cl.RemoveRoleClaims(ctx, role.ID, rc))
	rc, err = cl.RoleClaims(ctx, role.ID)
	require.NoError(t, err)
	assert.Empty(t, rc)
}

func testLogins(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	logins := conn.ExternalLogins()
	u := mustUser(t, conn, "frank", "frank@example.com")
	other := mustUser(t, conn, "grace", "grace@example.com")

	l := repository.ExternalLogin{Provider: "Google", ProviderKey: "g-123", DisplayName: "Google"}
	require.NoError(t, logins.AddLogin(ctx, u.ID, l))
	assert.ErrorIs(t, logins.AddLogin(ctx, other.ID, l), repository.ErrConflict)
	require.NoError(t, logins.AddLogin(ctx, u.ID, repository.ExternalLogin{Provider: "Facebook", ProviderKey: "fb-9"}))

	got, err := logins.FindUserByLogin(ctx, "Google", "g-123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	_, err = logins.FindUserByLogin(ctx, "Google", "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	list, err := logins.UserLogins(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Facebook", list[0].Provider)
	assert.Equal(t, "Google", list[1].DisplayName)

	// otro usuario no puede desvincular
	assert.ErrorIs(t, logins.RemoveLogin(ctx, other.ID, "Google", "g-123"), repository.ErrNotFound)
	require.NoError(t, logins.RemoveLogin(ctx, u.ID, "Google", "g-123"))
	assert.ErrorIs(t, logins.RemoveLogin(ctx, u.ID, "Google", "g-123"), repository.ErrNotFound)
}

func testRefresh(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	rt := conn.RefreshTokens()
	u := mustUser(t, conn, "heidi", "heidi@example.com")
	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)

	_, err := rt.Get(ctx, u.ID, "Default")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, rt.Upsert(ctx, repository.RefreshToken{UserID: u.ID, AppID: "Default", ValueHash: "h1", Scheme: "Bearer", ExpiresAt: exp}))
	require.NoError(t, rt.Upsert(ctx, repository.RefreshToken{UserID: u.ID, AppID: "Default", ValueHash: "h2", Scheme: "Bearer", ExpiresAt: exp}))
	require.NoError(t, rt.Upsert(ctx, repository.RefreshToken{UserID: u.ID, AppID: "mobile", ValueHash: "m1", Scheme: "Bearer", ExpiresAt: exp}))

	got, err := rt.Get(ctx, u.ID, "Default")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ValueHash)
	assert.Equal(t, "Bearer", got.Scheme)
	assert.WithinDuration(t, exp, got.ExpiresAt, time.Millisecond)
	assert.False(t, got.Expired(time.Now()))

	next := repository.RefreshToken{UserID: u.ID, AppID: "Default", ValueHash: "h3", Scheme: "Bearer", ExpiresAt: exp}
	assert.ErrorIs(t, rt.Replace(ctx, "h1", next), repository.ErrConflict)
	require.NoError(t, rt.Replace(ctx, "h2", next))

	require.NoError(t, rt.Delete(ctx, u.ID, "Default"))
	require.NoError(t, rt.Delete(ctx, u.ID, "Default"))
	_, err = rt.Get(ctx, u.ID, "Default")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// el otro app no se toca
	got, err = rt.Get(ctx, u.ID, "mobile")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ValueHash)
}

func testRefreshRace(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	rt := conn.RefreshTokens()
	u := mustUser(t, conn, "ivan", "ivan@example.com")
	exp := time.Now().UTC().Add(time.Hour)
	require.NoError(t, rt.Upsert(ctx, repository.RefreshToken{UserID: u.ID, AppID: "Default", ValueHash: "seed", Scheme: "Bearer", ExpiresAt: exp}))

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := rt.Replace(ctx, "seed", repository.RefreshToken{
				UserID: u.ID, AppID: "Default", ValueHash: uuid.NewString(), Scheme: "Bearer", ExpiresAt: exp,
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, repository.ErrConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testAccessFailureRace(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	users := conn.Users()
	u := mustUser(t, conn, "judy", "judy@example.com")
	now := time.Now().UTC()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := users.RecordAccessFailure(ctx, u.ID, 100, now.Add(time.Hour), now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.AccessFailedCount)
	assert.Nil(t, got.LockoutEnd)
}

func testPurpose(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	pt := conn.PurposeTokens()
	u := mustUser(t, conn, "judy", "judy@example.com")
	exp := time.Now().UTC().Add(time.Hour)

	require.NoError(t, pt.Put(ctx, repository.PurposeToken{UserID: u.ID, Purpose: "ResetPassword", TokenHash: "a", ExpiresAt: exp}))
	// el segundo reemplaza al primero
	require.NoError(t, pt.Put(ctx, repository.PurposeToken{UserID: u.ID, Purpose: "ResetPassword", TokenHash: "b", Payload: "x", ExpiresAt: exp}))

	got, err := pt.Get(ctx, u.ID, "ResetPassword")
	require.NoError(t, err)
	assert.Equal(t, "b", got.TokenHash)
	assert.Equal(t, "x", got.Payload)

	assert.ErrorIs(t, pt.Consume(ctx, u.ID, "ResetPassword", "a"), repository.ErrNotFound)
	require.NoError(t, pt.Consume(ctx, u.ID, "ResetPassword", "b"))
	assert.ErrorIs(t, pt.Consume(ctx, u.ID, "ResetPassword", "b"), repository.ErrNotFound)
}

func testTwoFactor(t *testing.T, conn store.AdapterConnection) {
	ctx := context.Background()
	tf := conn.TwoFactor()
	u := mustUser(t, conn, "kim", "kim@example.com")

	_, err := tf.GetTOTP(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, tf.AdvanceCounter(ctx, u.ID, 1), repository.ErrNotFound)

	require.NoError(t, tf.UpsertTOTP(ctx, u.ID, "sealed"))
	got, err := tf.GetTOTP(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "sealed", got.SecretEncrypted)
	assert.Nil(t, got.ConfirmedAt)

	require.NoError(t, tf.ConfirmTOTP(ctx, u.ID, time.Now().UTC()))
	require.NoError(t, tf.AdvanceCounter(ctx, u.ID, 100))
	assert.ErrorIs(t, tf.AdvanceCounter(ctx, u.ID, 100), repository.ErrConflict)
	assert.ErrorIs(t, tf.AdvanceCounter(ctx, u.ID, 99), repository.ErrConflict)
	require.NoError(t, tf.AdvanceCounter(ctx, u.ID, 101))

	got, err = tf.GetTOTP(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ConfirmedAt)
	assert.EqualValues(t, 101, got.LastCounter)

	// re-enrolar resetea confirmación y contador
	require.NoError(t, tf.UpsertTOTP(ctx, u.ID, "sealed2"))
	got, err = tf.GetTOTP(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ConfirmedAt)
	assert.Zero(t, got.LastCounter)

	require.NoError(t, tf.DeleteTOTP(ctx, u.ID))
	require.NoError(t, tf.DeleteTOTP(ctx, u.ID))
}
