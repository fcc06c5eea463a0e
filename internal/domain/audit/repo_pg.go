package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careportal/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG builds the postgres-backed audit repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return db.WithRetries(r.pool)
}

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entries (id, ordinal, action, actor_id, subject_id, payload, source_ip, user_agent, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Ordinal, e.Action, e.ActorID, nullable(e.SubjectID), payload,
		nullable(e.SourceIP), nullable(e.UserAgent), e.At)
	return err
}

func (r *repoPG) MaxOrdinal(ctx context.Context) (uint64, error) {
	var max uint64
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(ordinal), 0) FROM audit_entries`).Scan(&max)
	return max, err
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	i := 1
	if f.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", i))
		args = append(args, f.Action)
		i++
	}
	if f.ActorID != "" {
		where = append(where, fmt.Sprintf("actor_id = $%d", i))
		args = append(args, f.ActorID)
		i++
	}
	if f.Since != "" {
		where = append(where, fmt.Sprintf("at >= $%d", i))
		args = append(args, f.Since)
		i++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if f.SortAsc {
		order = "ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, ordinal, action, actor_id, COALESCE(subject_id, ''), payload,
		       COALESCE(source_ip, ''), COALESCE(user_agent, ''), at
		FROM audit_entries WHERE %s
		ORDER BY ordinal %s LIMIT $%d OFFSET $%d`, cond, order, i, i+1)
	args = append(args, limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Ordinal, &e.Action, &e.ActorID, &e.SubjectID,
			&payload, &e.SourceIP, &e.UserAgent, &e.At); err != nil {
			return nil, 0, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
