package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Principal repository ===========

type principalRepoPG struct{ pool *pgxpool.Pool }

func NewPrincipalRepoPG(pool *pgxpool.Pool) PrincipalRepository {
	return &principalRepoPG{pool: pool}
}

func (r *principalRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return db.WithRetries(r.pool)
}

const principalCols = `id, name, email, role, status, credential_hash,
	failed_logins, locked_until, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*Principal, error) {
	var p Principal
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Status, &p.CredentialHash,
		&p.FailedLogins, &p.LockedUntil, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "principal not found")
	}
	return &p, err
}

func (r *principalRepoPG) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO principals (id, name, email, role, status, credential_hash, failed_logins)
		VALUES ($1,$2,$3,$4,$5,$6,0)`,
		p.ID, p.Name, p.Email, p.Role, p.Status, p.CredentialHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.E(apperr.KindConflict, "email already registered")
	}
	return err
}

func (r *principalRepoPG) GetByID(ctx context.Context, id string) (*Principal, error) {
	return scanPrincipal(r.conn(ctx).QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE id = $1`, id))
}

func (r *principalRepoPG) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	return scanPrincipal(r.conn(ctx).QueryRow(ctx,
		`SELECT `+principalCols+` FROM principals WHERE email = $1 AND status <> 'deleted'`, email))
}

func (r *principalRepoPG) Update(ctx context.Context, p *Principal) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE principals SET name=$2, email=$3, role=$4, status=$5,
			credential_hash=$6, failed_logins=$7, locked_until=$8, updated_at=NOW()
		WHERE id=$1`,
		p.ID, p.Name, p.Email, p.Role, p.Status,
		p.CredentialHash, p.FailedLogins, p.LockedUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "principal not found")
	}
	return nil
}

func (r *principalRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "principal not found")
	}
	return nil
}

func (r *principalRepoPG) List(ctx context.Context, f ListFilter) ([]Principal, int, error) {
	where := []string{"status <> 'deleted'"}
	args := []interface{}{}
	i := 1
	add := func(cond string, val interface{}) {
		where = append(where, fmt.Sprintf(cond, i))
		args = append(args, val)
		i++
	}
	if f.Role != "" {
		add("role = $%d", f.Role)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ExcludeStatus != "" {
		add("status <> $%d", f.ExcludeStatus)
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", i, i))
		args = append(args, "%"+f.Search+"%")
		i++
	}
	if f.DateFrom != nil {
		add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at <= $%d", *f.DateTo)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM principals WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	query := fmt.Sprintf(`SELECT %s FROM principals WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, principalCols, cond, i, i+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Status, &p.CredentialHash,
			&p.FailedLogins, &p.LockedUntil, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *principalRepoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM principals GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *principalRepoPG) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT role, COUNT(*) FROM principals WHERE status <> 'deleted' GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[role] = n
	}
	return out, rows.Err()
}

// =========== Session repository ===========

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return db.WithRetries(r.pool)
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sessions (token_hash, principal_id, issued_at, expires_at)
		VALUES ($1,$2,$3,$4)`,
		s.TokenHash, s.PrincipalID, s.IssuedAt, s.ExpiresAt)
	return err
}

func (r *sessionRepoPG) GetByTokenHash(ctx context.Context, hash string) (*Session, error) {
	var s Session
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT token_hash, principal_id, issued_at, expires_at, revoked_at
		FROM sessions WHERE token_hash = $1`, hash).
		Scan(&s.TokenHash, &s.PrincipalID, &s.IssuedAt, &s.ExpiresAt, &s.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Sub(apperr.KindAuthRequired, apperr.SubTokenInvalid, "unknown token")
	}
	return &s, err
}

func (r *sessionRepoPG) Revoke(ctx context.Context, hash string, now time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL`, hash, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepoPG) RevokeAllFor(ctx context.Context, principalID string, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE principal_id = $1 AND revoked_at IS NULL`, principalID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepoPG) RevokeAllForExcept(ctx context.Context, principalID, keepHash string, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE sessions SET revoked_at = $3
		WHERE principal_id = $1 AND token_hash <> $2 AND revoked_at IS NULL`,
		principalID, keepHash, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepoPG) CountActive(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE revoked_at IS NULL AND expires_at > $1`, now).Scan(&n)
	return n, err
}
