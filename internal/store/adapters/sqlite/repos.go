package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
)

// ─── UserRepository ───

type userRepo struct{ db *sql.DB }

const userColumns = `id, user_name, email, email_confirmed, phone_number, phone_number_confirmed,
	password_hash, lockout_enabled, lockout_end, access_failed_count, two_factor_enabled,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*repository.User, error) {
	var (
		u                    repository.User
		lockoutEnd           sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.EmailConfirmed, &u.PhoneNumber, &u.PhoneNumberConfirmed,
		&u.PasswordHash, &u.LockoutEnabled, &lockoutEnd, &u.AccessFailedCount, &u.TwoFactorEnabled,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.LockoutEnd = timePtr(lockoutEnd)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func (r *userRepo) getBy(ctx context.Context, where string, arg any) (*repository.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return r.getBy(ctx, `id = ?`, id)
}

func (r *userRepo) GetByUserName(ctx context.Context, userName string) (*repository.User, error) {
	return r.getBy(ctx, `normalized_user_name = ?`, repository.Normalize(userName))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	n := repository.Normalize(email)
	if n == "" {
		return nil, repository.ErrNotFound
	}
	return r.getBy(ctx, `normalized_email = ?`, n)
}

func (r *userRepo) GetByPhoneNumber(ctx context.Context, phone string) (*repository.User, error) {
	if phone == "" {
		return nil, repository.ErrNotFound
	}
	return r.getBy(ctx, `phone_number = ? ORDER BY created_at LIMIT 1`, phone)
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	const query = `
		INSERT INTO users (id, user_name, normalized_user_name, email, normalized_email, email_confirmed,
			phone_number, phone_number_confirmed, password_hash, lockout_enabled, lockout_end,
			access_failed_count, two_factor_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.UserName, repository.Normalize(u.UserName), u.Email, nullIfEmpty(repository.Normalize(u.Email)), u.EmailConfirmed,
		u.PhoneNumber, u.PhoneNumberConfirmed, u.PasswordHash, u.LockoutEnabled, nullMillis(u.LockoutEnd),
		u.AccessFailedCount, u.TwoFactorEnabled, toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	return userWriteErr(err)
}

func (r *userRepo) Update(ctx context.Context, u *repository.User) error {
	const query = `
		UPDATE users SET user_name = ?, normalized_user_name = ?, email = ?, normalized_email = ?,
			email_confirmed = ?, phone_number = ?, phone_number_confirmed = ?, password_hash = ?,
			lockout_enabled = ?, two_factor_enabled = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		u.UserName, repository.Normalize(u.UserName), u.Email, nullIfEmpty(repository.Normalize(u.Email)),
		u.EmailConfirmed, u.PhoneNumber, u.PhoneNumberConfirmed, u.PasswordHash,
		u.LockoutEnabled, u.TwoFactorEnabled, toMillis(u.UpdatedAt), u.ID)
	if err != nil {
		return userWriteErr(err)
	}
	return requireRow(res)
}

// RecordAccessFailure: las expresiones del SET ven la fila previa, así que
// el incremento y el bloqueo salen de un mismo valor.
func (r *userRepo) RecordAccessFailure(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*repository.AccessFailures, error) {
	const query = `
		UPDATE users SET
			lockout_end = CASE WHEN access_failed_count + 1 >= ? THEN ? ELSE lockout_end END,
			access_failed_count = CASE WHEN access_failed_count + 1 >= ? THEN 0 ELSE access_failed_count + 1 END,
			updated_at = ?
		WHERE id = ?
		RETURNING access_failed_count, lockout_end`
	var (
		res repository.AccessFailures
		end sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, maxAttempts, toMillis(lockUntil), maxAttempts, toMillis(at), id).
		Scan(&res.Count, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res.LockoutEnd = timePtr(end)
	return &res, nil
}

func (r *userRepo) ResetAccessFailures(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET access_failed_count = 0, lockout_end = NULL, updated_at = ? WHERE id = ?`,
		toMillis(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete depende de foreign_keys(1): el resto de las tablas borra en cascada.
func (r *userRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func userWriteErr(err error) error {
	msg, ok := uniqueViolation(err)
	switch {
	case !ok:
		return err
	case strings.Contains(msg, "normalized_user_name"):
		return repository.ErrDuplicateUserName
	case strings.Contains(msg, "normalized_email"):
		return repository.ErrDuplicateEmail
	default:
		return repository.ErrConflict
	}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── RoleRepository ───

type roleRepo struct{ db *sql.DB }

func (r *roleRepo) ListRoles(ctx context.Context) ([]repository.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Role
	for rows.Next() {
		var (
			role      repository.Role
			createdAt int64
		)
		if err := rows.Scan(&role.ID, &role.Name, &createdAt); err != nil {
			return nil, err
		}
		role.CreatedAt = fromMillis(createdAt)
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *roleRepo) GetRoleByName(ctx context.Context, name string) (*repository.Role, error) {
	var (
		role      repository.Role
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM roles WHERE normalized_name = ?`,
		repository.Normalize(name)).Scan(&role.ID, &role.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.CreatedAt = fromMillis(createdAt)
	return &role, nil
}

func (r *roleRepo) CreateRole(ctx context.Context, role *repository.Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, normalized_name, created_at) VALUES (?, ?, ?, ?)`,
		role.ID, role.Name, repository.Normalize(role.Name), toMillis(role.CreatedAt))
	if _, dup := uniqueViolation(err); dup {
		return repository.ErrConflict
	}
	return err
}

func (r *roleRepo) DeleteRole(ctx context.Context, roleID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *roleRepo) UserRoleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.name FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *roleRepo) AddUserToRole(ctx context.Context, userID, roleID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID)
	if _, dup := uniqueViolation(err); dup {
		return repository.ErrConflict
	}
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	return err
}

func (r *roleRepo) RemoveUserFromRole(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ─── ClaimRepository ───

type claimRepo struct{ db *sql.DB }

func (r *claimRepo) list(ctx context.Context, table, ownerCol, owner string) ([]claims.Claim, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT claim_type, claim_value FROM `+table+` WHERE `+ownerCol+` = ? ORDER BY claim_type, claim_value`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []claims.Claim
	for rows.Next() {
		var c claims.Claim
		if err := rows.Scan(&c.Type, &c.Value); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *claimRepo) write(ctx context.Context, query, owner string, cs []claims.Claim) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range cs {
		if _, err := tx.ExecContext(ctx, query, owner, c.Type, c.Value); err != nil {
			if isForeignKeyViolation(err) {
				return repository.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

func (r *claimRepo) UserClaims(ctx context.Context, userID string) ([]claims.Claim, error) {
	return r.list(ctx, "user_claims", "user_id", userID)
}

func (r *claimRepo) AddUserClaims(ctx context.Context, userID string, cs []claims.Claim) error {
	return r.write(ctx, `INSERT OR IGNORE INTO user_claims (user_id, claim_type, claim_value) VALUES (?, ?, ?)`, userID, cs)
}

func (r *claimRepo) RemoveUserClaims(ctx context.Context, userID string, cs []claims.Claim) error {
	return r.write(ctx, `DELETE FROM user_claims WHERE user_id = ? AND claim_type = ? AND claim_value = ?`, userID, cs)
}

func (r *claimRepo) RoleClaims(ctx context.Context, roleID string) ([]claims.Claim, error) {
	return r.list(ctx, "role_claims", "role_id", roleID)
}

func (r *claimRepo) AddRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error {
	return r.write(ctx, `INSERT OR IGNORE INTO role_claims (role_id, claim_type, claim_value) VALUES (?, ?, ?)`, roleID, cs)
}

func (r *claimRepo) RemoveRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error {
	return r.write(ctx, `DELETE FROM role_claims WHERE role_id = ? AND claim_type = ? AND claim_value = ?`, roleID, cs)
}

// ─── ExternalLoginRepository ───

type loginRepo struct{ db *sql.DB }

func (r *loginRepo) FindUserByLogin(ctx context.Context, provider, providerKey string) (*repository.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = (SELECT user_id FROM user_logins WHERE provider = ? AND provider_key = ?)`,
		provider, providerKey))
}

func (r *loginRepo) AddLogin(ctx context.Context, userID string, l repository.ExternalLogin) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_logins (provider, provider_key, user_id, display_name) VALUES (?, ?, ?, ?)`,
		l.Provider, l.ProviderKey, userID, l.DisplayName)
	if _, dup := uniqueViolation(err); dup {
		return repository.ErrConflict
	}
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	return err
}

func (r *loginRepo) RemoveLogin(ctx context.Context, userID, provider, providerKey string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_logins WHERE user_id = ? AND provider = ? AND provider_key = ?`,
		userID, provider, providerKey)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *loginRepo) UserLogins(ctx context.Context, userID string) ([]repository.ExternalLogin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider, provider_key, display_name FROM user_logins
		WHERE user_id = ? ORDER BY provider, provider_key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.ExternalLogin
	for rows.Next() {
		var l repository.ExternalLogin
		if err := rows.Scan(&l.Provider, &l.ProviderKey, &l.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ─── RefreshTokenRepository ───

type refreshRepo struct{ db *sql.DB }

func (r *refreshRepo) Get(ctx context.Context, userID, appID string) (*repository.RefreshToken, error) {
	t := repository.RefreshToken{UserID: userID, AppID: appID}
	var exp int64
	err := r.db.QueryRowContext(ctx,
		`SELECT value_hash, scheme, expires_at FROM refresh_tokens WHERE user_id = ? AND app_id = ?`,
		userID, appID).Scan(&t.ValueHash, &t.Scheme, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = fromMillis(exp)
	return &t, nil
}

func (r *refreshRepo) Upsert(ctx context.Context, t repository.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, app_id, value_hash, scheme, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, app_id) DO UPDATE SET
			value_hash = excluded.value_hash,
			scheme = excluded.scheme,
			expires_at = excluded.expires_at`,
		t.UserID, t.AppID, t.ValueHash, t.Scheme, toMillis(t.ExpiresAt))
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	return err
}

func (r *refreshRepo) Replace(ctx context.Context, oldHash string, t repository.RefreshToken) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET value_hash = ?, scheme = ?, expires_at = ?
		WHERE user_id = ? AND app_id = ? AND value_hash = ?`,
		t.ValueHash, t.Scheme, toMillis(t.ExpiresAt), t.UserID, t.AppID, oldHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return repository.ErrConflict
	}
	return nil
}

func (r *refreshRepo) Delete(ctx context.Context, userID, appID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ? AND app_id = ?`, userID, appID)
	return err
}

// ─── PurposeTokenRepository ───

type purposeRepo struct{ db *sql.DB }

func (r *purposeRepo) Put(ctx context.Context, t repository.PurposeToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO purpose_tokens (user_id, purpose, token_hash, payload, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, purpose) DO UPDATE SET
			token_hash = excluded.token_hash,
			payload = excluded.payload,
			expires_at = excluded.expires_at`,
		t.UserID, t.Purpose, t.TokenHash, t.Payload, toMillis(t.ExpiresAt))
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	return err
}

func (r *purposeRepo) Get(ctx context.Context, userID, purpose string) (*repository.PurposeToken, error) {
	t := repository.PurposeToken{UserID: userID, Purpose: purpose}
	var exp int64
	err := r.db.QueryRowContext(ctx,
		`SELECT token_hash, payload, expires_at FROM purpose_tokens WHERE user_id = ? AND purpose = ?`,
		userID, purpose).Scan(&t.TokenHash, &t.Payload, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = fromMillis(exp)
	return &t, nil
}

func (r *purposeRepo) Consume(ctx context.Context, userID, purpose, tokenHash string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM purpose_tokens WHERE user_id = ? AND purpose = ? AND token_hash = ?`,
		userID, purpose, tokenHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ─── TwoFactorRepository ───

type twoFactorRepo struct{ db *sql.DB }

func (r *twoFactorRepo) UpsertTOTP(ctx context.Context, userID, secretEnc string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_totp (user_id, secret_encrypted, confirmed_at, last_counter)
		VALUES (?, ?, NULL, 0)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = excluded.secret_encrypted,
			confirmed_at = NULL,
			last_counter = 0`,
		userID, secretEnc)
	if isForeignKeyViolation(err) {
		return repository.ErrNotFound
	}
	return err
}

func (r *twoFactorRepo) GetTOTP(ctx context.Context, userID string) (*repository.TOTP, error) {
	t := repository.TOTP{UserID: userID}
	var confirmed sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT secret_encrypted, confirmed_at, last_counter FROM user_totp WHERE user_id = ?`,
		userID).Scan(&t.SecretEncrypted, &confirmed, &t.LastCounter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ConfirmedAt = timePtr(confirmed)
	return &t, nil
}

func (r *twoFactorRepo) ConfirmTOTP(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE user_totp SET confirmed_at = ? WHERE user_id = ?`, toMillis(at), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *twoFactorRepo) AdvanceCounter(ctx context.Context, userID string, counter int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_totp SET last_counter = ? WHERE user_id = ? AND last_counter < ?`,
		counter, userID, counter)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetTOTP(ctx, userID); err != nil {
		return err
	}
	return repository.ErrConflict
}

func (r *twoFactorRepo) DeleteTOTP(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_totp WHERE user_id = ?`, userID)
	return err
}
