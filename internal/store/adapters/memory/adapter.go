// Package memory implementa un adapter en memoria para tests y desarrollo.
// Un único mutex protege todo el estado, así cada operación es atómica.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
	"github.com/dropDatabas3/johnid/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return New(), nil
}

type pairKey struct{ a, b string }

type loginRec struct {
	userID      string
	displayName string
}

type db struct {
	mu sync.RWMutex

	users      map[string]*repository.User
	roles      map[string]repository.Role
	userRoles  map[string]map[string]struct{} // userID -> roleIDs
	userClaims map[string][]claims.Claim
	roleClaims map[string][]claims.Claim
	logins     map[pairKey]loginRec // (provider, key)
	refresh    map[pairKey]repository.RefreshToken
	purpose    map[pairKey]repository.PurposeToken
	totp       map[string]repository.TOTP
}

// Connection es una conexión en memoria. Cada New arranca vacía.
type Connection struct {
	d *db
}

// New crea un store en memoria vacío.
func New() *Connection {
	return &Connection{d: &db{
		users:      map[string]*repository.User{},
		roles:      map[string]repository.Role{},
		userRoles:  map[string]map[string]struct{}{},
		userClaims: map[string][]claims.Claim{},
		roleClaims: map[string][]claims.Claim{},
		logins:     map[pairKey]loginRec{},
		refresh:    map[pairKey]repository.RefreshToken{},
		purpose:    map[pairKey]repository.PurposeToken{},
		totp:       map[string]repository.TOTP{},
	}}
}

func (c *Connection) Name() string                   { return "memory" }
func (c *Connection) Ping(ctx context.Context) error { return ctx.Err() }
func (c *Connection) Close() error                   { return nil }

func (c *Connection) Users() repository.UserRepository                   { return &userRepo{c.d} }
func (c *Connection) Roles() repository.RoleRepository                   { return &roleRepo{c.d} }
func (c *Connection) Claims() repository.ClaimRepository                 { return &claimRepo{c.d} }
func (c *Connection) ExternalLogins() repository.ExternalLoginRepository { return &loginRepo{c.d} }
func (c *Connection) RefreshTokens() repository.RefreshTokenRepository   { return &refreshRepo{c.d} }
func (c *Connection) PurposeTokens() repository.PurposeTokenRepository   { return &purposeRepo{c.d} }
func (c *Connection) TwoFactor() repository.TwoFactorRepository          { return &twoFactorRepo{c.d} }

func cloneUser(u *repository.User) *repository.User {
	cp := *u
	if u.LockoutEnd != nil {
		t := *u.LockoutEnd
		cp.LockoutEnd = &t
	}
	return &cp
}

// ─── UserRepository ───

type userRepo struct{ d *db }

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if u, ok := r.d.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) find(match func(*repository.User) bool) (*repository.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, u := range r.d.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) GetByUserName(ctx context.Context, userName string) (*repository.User, error) {
	n := repository.Normalize(userName)
	return r.find(func(u *repository.User) bool { return repository.Normalize(u.UserName) == n })
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	n := repository.Normalize(email)
	if n == "" {
		return nil, repository.ErrNotFound
	}
	return r.find(func(u *repository.User) bool { return repository.Normalize(u.Email) == n })
}

func (r *userRepo) GetByPhoneNumber(ctx context.Context, phone string) (*repository.User, error) {
	if phone == "" {
		return nil, repository.ErrNotFound
	}
	return r.find(func(u *repository.User) bool { return u.PhoneNumber == phone })
}

// checkUnique debe llamarse con el lock tomado.
func (r *userRepo) checkUnique(u *repository.User) error {
	name := repository.Normalize(u.UserName)
	email := repository.Normalize(u.Email)
	for id, other := range r.d.users {
		if id == u.ID {
			continue
		}
		if repository.Normalize(other.UserName) == name {
			return repository.ErrDuplicateUserName
		}
		if email != "" && repository.Normalize(other.Email) == email {
			return repository.ErrDuplicateEmail
		}
	}
	return nil
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[u.ID]; ok {
		return repository.ErrConflict
	}
	if err := r.checkUnique(u); err != nil {
		return err
	}
	r.d.users[u.ID] = cloneUser(u)
	return nil
}

func (r *userRepo) Update(ctx context.Context, u *repository.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	cur, ok := r.d.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if err := r.checkUnique(u); err != nil {
		return err
	}
	cp := cloneUser(u)
	cp.AccessFailedCount = cur.AccessFailedCount
	cp.LockoutEnd = cur.LockoutEnd
	r.d.users[u.ID] = cp
	return nil
}

func (r *userRepo) RecordAccessFailure(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*repository.AccessFailures, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u.AccessFailedCount++
	if u.AccessFailedCount >= maxAttempts {
		end := lockUntil
		u.LockoutEnd = &end
		u.AccessFailedCount = 0
	}
	u.UpdatedAt = at
	res := &repository.AccessFailures{Count: u.AccessFailedCount}
	if u.LockoutEnd != nil {
		t := *u.LockoutEnd
		res.LockoutEnd = &t
	}
	return res, nil
}

func (r *userRepo) ResetAccessFailures(ctx context.Context, id string, at time.Time) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.AccessFailedCount = 0
	u.LockoutEnd = nil
	u.UpdatedAt = at
	return nil
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.d.users, id)
	delete(r.d.userRoles, id)
	delete(r.d.userClaims, id)
	delete(r.d.totp, id)
	for k, rec := range r.d.logins {
		if rec.userID == id {
			delete(r.d.logins, k)
		}
	}
	for k := range r.d.refresh {
		if k.a == id {
			delete(r.d.refresh, k)
		}
	}
	for k := range r.d.purpose {
		if k.a == id {
			delete(r.d.purpose, k)
		}
	}
	return nil
}

// ─── RoleRepository ───

type roleRepo struct{ d *db }

func (r *roleRepo) ListRoles(ctx context.Context) ([]repository.Role, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]repository.Role, 0, len(r.d.roles))
	for _, role := range r.d.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roleRepo) GetRoleByName(ctx context.Context, name string) (*repository.Role, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	n := repository.Normalize(name)
	for _, role := range r.d.roles {
		if repository.Normalize(role.Name) == n {
			cp := role
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *roleRepo) CreateRole(ctx context.Context, role *repository.Role) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	n := repository.Normalize(role.Name)
	for id, other := range r.d.roles {
		if id == role.ID || repository.Normalize(other.Name) == n {
			return repository.ErrConflict
		}
	}
	r.d.roles[role.ID] = *role
	return nil
}

func (r *roleRepo) DeleteRole(ctx context.Context, roleID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.d.roles, roleID)
	delete(r.d.roleClaims, roleID)
	for _, set := range r.d.userRoles {
		delete(set, roleID)
	}
	return nil
}

func (r *roleRepo) UserRoleNames(ctx context.Context, userID string) ([]string, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []string
	for roleID := range r.d.userRoles[userID] {
		if role, ok := r.d.roles[roleID]; ok {
			out = append(out, role.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *roleRepo) AddUserToRole(ctx context.Context, userID, roleID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[userID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.d.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	set, ok := r.d.userRoles[userID]
	if !ok {
		set = map[string]struct{}{}
		r.d.userRoles[userID] = set
	}
	if _, dup := set[roleID]; dup {
		return repository.ErrConflict
	}
	set[roleID] = struct{}{}
	return nil
}

func (r *roleRepo) RemoveUserFromRole(ctx context.Context, userID, roleID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	set := r.d.userRoles[userID]
	if _, ok := set[roleID]; !ok {
		return repository.ErrNotFound
	}
	delete(set, roleID)
	return nil
}

// ─── ClaimRepository ───

type claimRepo struct{ d *db }

func sortedCopy(cs []claims.Claim) []claims.Claim {
	out := make([]claims.Claim, len(cs))
	copy(out, cs)
	claims.Sort(out)
	return out
}

func addClaims(existing, add []claims.Claim) []claims.Claim {
	return claims.Distinct(append(existing, add...))
}

func removeClaims(existing, rm []claims.Claim) []claims.Claim {
	drop := claims.NewSet(rm...)
	out := existing[:0:0]
	for _, c := range existing {
		if !drop.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

func (r *claimRepo) UserClaims(ctx context.Context, userID string) ([]claims.Claim, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return sortedCopy(r.d.userClaims[userID]), nil
}

func (r *claimRepo) AddUserClaims(ctx context.Context, userID string, cs []claims.Claim) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[userID]; !ok {
		return repository.ErrNotFound
	}
	r.d.userClaims[userID] = addClaims(r.d.userClaims[userID], cs)
	return nil
}

func (r *claimRepo) RemoveUserClaims(ctx context.Context, userID string, cs []claims.Claim) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.userClaims[userID] = removeClaims(r.d.userClaims[userID], cs)
	return nil
}

func (r *claimRepo) RoleClaims(ctx context.Context, roleID string) ([]claims.Claim, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return sortedCopy(r.d.roleClaims[roleID]), nil
}

func (r *claimRepo) AddRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	r.d.roleClaims[roleID] = addClaims(r.d.roleClaims[roleID], cs)
	return nil
}

func (r *claimRepo) RemoveRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.roleClaims[roleID] = removeClaims(r.d.roleClaims[roleID], cs)
	return nil
}

// ─── ExternalLoginRepository ───

type loginRepo struct{ d *db }

func (r *loginRepo) FindUserByLogin(ctx context.Context, provider, providerKey string) (*repository.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	rec, ok := r.d.logins[pairKey{provider, providerKey}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u, ok := r.d.users[rec.userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *loginRepo) AddLogin(ctx context.Context, userID string, l repository.ExternalLogin) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.users[userID]; !ok {
		return repository.ErrNotFound
	}
	k := pairKey{l.Provider, l.ProviderKey}
	if _, dup := r.d.logins[k]; dup {
		return repository.ErrConflict
	}
	r.d.logins[k] = loginRec{userID: userID, displayName: l.DisplayName}
	return nil
}

func (r *loginRepo) RemoveLogin(ctx context.Context, userID, provider, providerKey string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	k := pairKey{provider, providerKey}
	rec, ok := r.d.logins[k]
	if !ok || rec.userID != userID {
		return repository.ErrNotFound
	}
	delete(r.d.logins, k)
	return nil
}

func (r *loginRepo) UserLogins(ctx context.Context, userID string) ([]repository.ExternalLogin, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []repository.ExternalLogin
	for k, rec := range r.d.logins {
		if rec.userID == userID {
			out = append(out, repository.ExternalLogin{Provider: k.a, ProviderKey: k.b, DisplayName: rec.displayName})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ProviderKey < out[j].ProviderKey
	})
	return out, nil
}

// ─── RefreshTokenRepository ───

type refreshRepo struct{ d *db }

func (r *refreshRepo) Get(ctx context.Context, userID, appID string) (*repository.RefreshToken, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	t, ok := r.d.refresh[pairKey{userID, appID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *refreshRepo) Upsert(ctx context.Context, t repository.RefreshToken) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.refresh[pairKey{t.UserID, t.AppID}] = t
	return nil
}

func (r *refreshRepo) Replace(ctx context.Context, oldHash string, t repository.RefreshToken) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	k := pairKey{t.UserID, t.AppID}
	cur, ok := r.d.refresh[k]
	if !ok || cur.ValueHash != oldHash {
		return repository.ErrConflict
	}
	r.d.refresh[k] = t
	return nil
}

func (r *refreshRepo) Delete(ctx context.Context, userID, appID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	delete(r.d.refresh, pairKey{userID, appID})
	return nil
}

// ─── PurposeTokenRepository ───

type purposeRepo struct{ d *db }

func (r *purposeRepo) Put(ctx context.Context, t repository.PurposeToken) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.purpose[pairKey{t.UserID, t.Purpose}] = t
	return nil
}

func (r *purposeRepo) Get(ctx context.Context, userID, purpose string) (*repository.PurposeToken, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	t, ok := r.d.purpose[pairKey{userID, purpose}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *purposeRepo) Consume(ctx context.Context, userID, purpose, tokenHash string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	k := pairKey{userID, purpose}
	t, ok := r.d.purpose[k]
	if !ok || t.TokenHash != tokenHash {
		return repository.ErrNotFound
	}
	delete(r.d.purpose, k)
	return nil
}

// ─── TwoFactorRepository ───

type twoFactorRepo struct{ d *db }

func (r *twoFactorRepo) UpsertTOTP(ctx context.Context, userID, secretEnc string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.d.totp[userID] = repository.TOTP{UserID: userID, SecretEncrypted: secretEnc}
	return nil
}

func (r *twoFactorRepo) GetTOTP(ctx context.Context, userID string) (*repository.TOTP, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	t, ok := r.d.totp[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *twoFactorRepo) ConfirmTOTP(ctx context.Context, userID string, at time.Time) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	t, ok := r.d.totp[userID]
	if !ok {
		return repository.ErrNotFound
	}
	t.ConfirmedAt = &at
	r.d.totp[userID] = t
	return nil
}

func (r *twoFactorRepo) AdvanceCounter(ctx context.Context, userID string, counter int64) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	t, ok := r.d.totp[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if counter <= t.LastCounter {
		return repository.ErrConflict
	}
	t.LastCounter = counter
	r.d.totp[userID] = t
	return nil
}

func (r *twoFactorRepo) DeleteTOTP(ctx context.Context, userID string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	delete(r.d.totp, userID)
	return nil
}
