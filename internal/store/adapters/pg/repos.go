package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/johnid/internal/claims"
	"github.com/dropDatabas3/johnid/internal/domain/repository"
)

// ─── UserRepository ───

type userRepo struct{ pool *pgxpool.Pool }

const userColumns = `id, user_name, email, email_confirmed, phone_number, phone_number_confirmed,
	password_hash, lockout_enabled, lockout_end, access_failed_count, two_factor_enabled,
	created_at, updated_at`

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.EmailConfirmed, &u.PhoneNumber, &u.PhoneNumberConfirmed,
		&u.PasswordHash, &u.LockoutEnabled, &u.LockoutEnd, &u.AccessFailedCount, &u.TwoFactorEnabled,
		&u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.LockoutEnd != nil {
		t := u.LockoutEnd.UTC()
		u.LockoutEnd = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepo) GetByUserName(ctx context.Context, userName string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE normalized_user_name = $1`, repository.Normalize(userName)))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	n := repository.Normalize(email)
	if n == "" {
		return nil, repository.ErrNotFound
	}
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE normalized_email = $1`, n))
}

func (r *userRepo) GetByPhoneNumber(ctx context.Context, phone string) (*repository.User, error) {
	if phone == "" {
		return nil, repository.ErrNotFound
	}
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone_number = $1 ORDER BY created_at LIMIT 1`, phone))
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	const query = `
		INSERT INTO users (id, user_name, normalized_user_name, email, normalized_email, email_confirmed,
			phone_number, phone_number_confirmed, password_hash, lockout_enabled, lockout_end,
			access_failed_count, two_factor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.pool.Exec(ctx, query,
		u.ID, u.UserName, repository.Normalize(u.UserName), u.Email, nullIfEmpty(repository.Normalize(u.Email)), u.EmailConfirmed,
		u.PhoneNumber, u.PhoneNumberConfirmed, u.PasswordHash, u.LockoutEnabled, u.LockoutEnd,
		u.AccessFailedCount, u.TwoFactorEnabled, u.CreatedAt, u.UpdatedAt)
	return userWriteErr(err)
}

func (r *userRepo) Update(ctx context.Context, u *repository.User) error {
	const query = `
		UPDATE users SET user_name = $2, normalized_user_name = $3, email = $4, normalized_email = $5,
			email_confirmed = $6, phone_number = $7, phone_number_confirmed = $8, password_hash = $9,
			lockout_enabled = $10, two_factor_enabled = $11, updated_at = $12
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		u.ID, u.UserName, repository.Normalize(u.UserName), u.Email, nullIfEmpty(repository.Normalize(u.Email)),
		u.EmailConfirmed, u.PhoneNumber, u.PhoneNumberConfirmed, u.PasswordHash,
		u.LockoutEnabled, u.TwoFactorEnabled, u.UpdatedAt)
	if err != nil {
		return userWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordAccessFailure: el UPDATE toma el lock de la fila, así que los
// intentos concurrentes se serializan y ninguno se pierde.
func (r *userRepo) RecordAccessFailure(ctx context.Context, id string, maxAttempts int, lockUntil, at time.Time) (*repository.AccessFailures, error) {
	const query = `
		UPDATE users SET
			lockout_end = CASE WHEN access_failed_count + 1 >= $2 THEN $3 ELSE lockout_end END,
			access_failed_count = CASE WHEN access_failed_count + 1 >= $2 THEN 0 ELSE access_failed_count + 1 END,
			updated_at = $4
		WHERE id = $1
		RETURNING access_failed_count, lockout_end
	`
	var res repository.AccessFailures
	err := r.pool.QueryRow(ctx, query, id, maxAttempts, lockUntil, at).Scan(&res.Count, &res.LockoutEnd)
	if isNoRows(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if res.LockoutEnd != nil {
		t := res.LockoutEnd.UTC()
		res.LockoutEnd = &t
	}
	return &res, nil
}

func (r *userRepo) ResetAccessFailures(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET access_failed_count = 0, lockout_end = NULL, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func userWriteErr(err error) error {
	code, constraint := pgCode(err)
	if code != uniqueViolation {
		return err
	}
	switch constraint {
	case "ux_users_normalized_user_name":
		return repository.ErrDuplicateUserName
	case "ux_users_normalized_email":
		return repository.ErrDuplicateEmail
	default:
		return repository.ErrConflict
	}
}

// ─── RoleRepository ───

type roleRepo struct{ pool *pgxpool.Pool }

func (r *roleRepo) ListRoles(ctx context.Context) ([]repository.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Role
	for rows.Next() {
		var role repository.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			return nil, err
		}
		role.CreatedAt = role.CreatedAt.UTC()
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *roleRepo) GetRoleByName(ctx context.Context, name string) (*repository.Role, error) {
	var role repository.Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM roles WHERE normalized_name = $1`,
		repository.Normalize(name)).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if isNoRows(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.CreatedAt = role.CreatedAt.UTC()
	return &role, nil
}

func (r *roleRepo) CreateRole(ctx context.Context, role *repository.Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO roles (id, name, normalized_name, created_at) VALUES ($1, $2, $3, $4)`,
		role.ID, role.Name, repository.Normalize(role.Name), role.CreatedAt)
	if code, _ := pgCode(err); code == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}

func (r *roleRepo) DeleteRole(ctx context.Context, roleID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *roleRepo) UserRoleNames(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT r.name FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`
	rows, err := r.pool.Query(ctx, query, userID)
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
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
	switch code, _ := pgCode(err); code {
	case uniqueViolation:
		return repository.ErrConflict
	case foreignKeyViolation:
		return repository.ErrNotFound
	}
	return err
}

func (r *roleRepo) RemoveUserFromRole(ctx context.Context, userID, roleID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── ClaimRepository ───

type claimRepo struct{ pool *pgxpool.Pool }

func (r *claimRepo) list(ctx context.Context, query, owner string) ([]claims.Claim, error) {
	rows, err := r.pool.Query(ctx, query, owner)
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

// write aplica query a cada claim en un batch dentro de una transacción.
func (r *claimRepo) write(ctx context.Context, query, owner string, cs []claims.Claim) error {
	if len(cs) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range cs {
		batch.Queue(query, owner, c.Type, c.Value)
	}
	br := tx.SendBatch(ctx, batch)
	for range cs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if code, _ := pgCode(err); code == foreignKeyViolation {
				return repository.ErrNotFound
			}
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *claimRepo) UserClaims(ctx context.Context, userID string) ([]claims.Claim, error) {
	return r.list(ctx,
		`SELECT claim_type, claim_value FROM user_claims WHERE user_id = $1 ORDER BY claim_type, claim_value`, userID)
}

func (r *claimRepo) AddUserClaims(ctx context.Context, userID string, cs []claims.Claim) error {
	return r.write(ctx, `
		INSERT INTO user_claims (user_id, claim_type, claim_value) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, userID, cs)
}

func (r *claimRepo) RemoveUserClaims(ctx context.Context, userID string, cs []claims.Claim) error {
	return r.write(ctx,
		`DELETE FROM user_claims WHERE user_id = $1 AND claim_type = $2 AND claim_value = $3`, userID, cs)
}

func (r *claimRepo) RoleClaims(ctx context.Context, roleID string) ([]claims.Claim, error) {
	return r.list(ctx,
		`SELECT claim_type, claim_value FROM role_claims WHERE role_id = $1 ORDER BY claim_type, claim_value`, roleID)
}

func (r *claimRepo) AddRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error {
	return r.write(ctx, `
		INSERT INTO role_claims (role_id, claim_type, claim_value) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, roleID, cs)
}

func (r *claimRepo) RemoveRoleClaims(ctx context.Context, roleID string, cs []claims.Claim) error {
	return r.write(ctx,
		`DELETE FROM role_claims WHERE role_id = $1 AND claim_type = $2 AND claim_value = $3`, roleID, cs)
}

// ─── ExternalLoginRepository ───

type loginRepo struct{ pool *pgxpool.Pool }

func (r *loginRepo) FindUserByLogin(ctx context.Context, provider, providerKey string) (*repository.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = (SELECT user_id FROM user_logins WHERE provider = $1 AND provider_key = $2)`,
		provider, providerKey))
}

func (r *loginRepo) AddLogin(ctx context.Context, userID string, l repository.ExternalLogin) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_logins (provider, provider_key, user_id, display_name) VALUES ($1, $2, $3, $4)`,
		l.Provider, l.ProviderKey, userID, l.DisplayName)
	switch code, _ := pgCode(err); code {
	case uniqueViolation:
		return repository.ErrConflict
	case foreignKeyViolation:
		return repository.ErrNotFound
	}
	return err
}

func (r *loginRepo) RemoveLogin(ctx context.Context, userID, provider, providerKey string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_logins WHERE user_id = $1 AND provider = $2 AND provider_key = $3`,
		userID, provider, providerKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *loginRepo) UserLogins(ctx context.Context, userID string) ([]repository.ExternalLogin, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider, provider_key, display_name FROM user_logins
		WHERE user_id = $1 ORDER BY provider, provider_key`, userID)
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

type refreshRepo struct{ pool *pgxpool.Pool }

func (r *refreshRepo) Get(ctx context.Context, userID, appID string) (*repository.RefreshToken, error) {
	t := repository.RefreshToken{UserID: userID, AppID: appID}
	err := r.pool.QueryRow(ctx,
		`SELECT value_hash, scheme, expires_at FROM refresh_tokens WHERE user_id = $1 AND app_id = $2`,
		userID, appID).Scan(&t.ValueHash, &t.Scheme, &t.ExpiresAt)
	if isNoRows(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func (r *refreshRepo) Upsert(ctx context.Context, t repository.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (user_id, app_id, value_hash, scheme, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, app_id) DO UPDATE SET
			value_hash = EXCLUDED.value_hash,
			scheme = EXCLUDED.scheme,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.pool.Exec(ctx, query, t.UserID, t.AppID, t.ValueHash, t.Scheme, t.ExpiresAt)
	if code, _ := pgCode(err); code == foreignKeyViolation {
		return repository.ErrNotFound
	}
	return err
}

// Replace es un compare-and-swap sobre value_hash: sólo un canje concurrente gana.
func (r *refreshRepo) Replace(ctx context.Context, oldHash string, t repository.RefreshToken) error {
	const query = `
		UPDATE refresh_tokens SET value_hash = $4, scheme = $5, expires_at = $6
		WHERE user_id = $1 AND app_id = $2 AND value_hash = $3
	`
	tag, err := r.pool.Exec(ctx, query, t.UserID, t.AppID, oldHash, t.ValueHash, t.Scheme, t.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return repository.ErrConflict
	}
	return nil
}

func (r *refreshRepo) Delete(ctx context.Context, userID, appID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1 AND app_id = $2`, userID, appID)
	return err
}

// ─── PurposeTokenRepository ───

type purposeRepo struct{ pool *pgxpool.Pool }

func (r *purposeRepo) Put(ctx context.Context, t repository.PurposeToken) error {
	const query = `
		INSERT INTO purpose_tokens (user_id, purpose, token_hash, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, purpose) DO UPDATE SET
			token_hash = EXCLUDED.token_hash,
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.pool.Exec(ctx, query, t.UserID, t.Purpose, t.TokenHash, t.Payload, t.ExpiresAt)
	if code, _ := pgCode(err); code == foreignKeyViolation {
		return repository.ErrNotFound
	}
	return err
}

func (r *purposeRepo) Get(ctx context.Context, userID, purpose string) (*repository.PurposeToken, error) {
	t := repository.PurposeToken{UserID: userID, Purpose: purpose}
	err := r.pool.QueryRow(ctx,
		`SELECT token_hash, payload, expires_at FROM purpose_tokens WHERE user_id = $1 AND purpose = $2`,
		userID, purpose).Scan(&t.TokenHash, &t.Payload, &t.ExpiresAt)
	if isNoRows(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func (r *purposeRepo) Consume(ctx context.Context, userID, purpose, tokenHash string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM purpose_tokens WHERE user_id = $1 AND purpose = $2 AND token_hash = $3`,
		userID, purpose, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── TwoFactorRepository ───

type twoFactorRepo struct{ pool *pgxpool.Pool }

func (r *twoFactorRepo) UpsertTOTP(ctx context.Context, userID, secretEnc string) error {
	const query = `
		INSERT INTO user_totp (user_id, secret_encrypted, confirmed_at, last_counter)
		VALUES ($1, $2, NULL, 0)
		ON CONFLICT (user_id) DO UPDATE SET secret_encrypted = $2, confirmed_at = NULL, last_counter = 0
	`
	_, err := r.pool.Exec(ctx, query, userID, secretEnc)
	if code, _ := pgCode(err); code == foreignKeyViolation {
		return repository.ErrNotFound
	}
	return err
}

func (r *twoFactorRepo) GetTOTP(ctx context.Context, userID string) (*repository.TOTP, error) {
	t := repository.TOTP{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT secret_encrypted, confirmed_at, last_counter FROM user_totp WHERE user_id = $1`,
		userID).Scan(&t.SecretEncrypted, &t.ConfirmedAt, &t.LastCounter)
	if isNoRows(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *twoFactorRepo) ConfirmTOTP(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_totp SET confirmed_at = $2 WHERE user_id = $1`, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *twoFactorRepo) AdvanceCounter(ctx context.Context, userID string, counter int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_totp SET last_counter = $2 WHERE user_id = $1 AND last_counter < $2`, userID, counter)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetTOTP(ctx, userID); err != nil {
		return err
	}
	return repository.ErrConflict
}

func (r *twoFactorRepo) DeleteTOTP(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_totp WHERE user_id = $1`, userID)
	return err
}
