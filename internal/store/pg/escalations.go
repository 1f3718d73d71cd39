package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rishsane/humuter-sub000/internal/store"
)

const escalationColumns = `id, agent_id, platform, chat_id, message_id, user_question, user_name,
	forwarded_message_id, status, admin_reply, created_at, resolved_at`

// PGEscalationStore implements store.EscalationStore backed by Postgres.
// Uniqueness of pending forwarded ids is enforced by a partial unique index.
type PGEscalationStore struct {
	db *sql.DB
}

func NewPGEscalationStore(db *sql.DB) *PGEscalationStore {
	return &PGEscalationStore{db: db}
}

func (s *PGEscalationStore) Create(ctx context.Context, e *store.EscalationData) error {
	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = store.EscalationStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escalations (id, agent_id, platform, chat_id, message_id, user_question, user_name,
		 forwarded_message_id, status, admin_reply, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.AgentID, e.Platform, e.ChatID, e.MessageID, e.UserQuestion, e.UserName,
		e.ForwardedMessageID, e.Status, e.AdminReply, e.CreatedAt, e.ResolvedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("pg: create escalation: %w", store.ErrConflict)
		}
		return fmt.Errorf("pg: create escalation: %w", err)
	}
	return nil
}

func (s *PGEscalationStore) Get(ctx context.Context, id uuid.UUID) (*store.EscalationData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	return scanOneEscalation(row)
}

func (s *PGEscalationStore) FindPendingByForwarded(ctx context.Context, agentID uuid.UUID, platform, forwardedID string) (*store.EscalationData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+escalationColumns+` FROM escalations
		 WHERE agent_id = $1 AND platform = $2 AND forwarded_message_id = $3 AND status = $4
		 LIMIT 1`,
		agentID, platform, forwardedID, store.EscalationStatusPending,
	)
	return scanOneEscalation(row)
}

func (s *PGEscalationStore) LatestPending(ctx context.Context, agentID uuid.UUID, platform string, since time.Time) (*store.EscalationData, error) {
	q := `SELECT ` + escalationColumns + ` FROM escalations
		 WHERE agent_id = $1 AND platform = $2 AND status = $3`
	args := []any{agentID, platform, store.EscalationStatusPending}
	if !since.IsZero() {
		q += ` AND created_at > $4`
		args = append(args, since)
	}
	q += ` ORDER BY created_at DESC LIMIT 1`
	return scanOneEscalation(s.db.QueryRowContext(ctx, q, args...))
}

func (s *PGEscalationStore) Resolve(ctx context.Context, id uuid.UUID, adminReply string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status = $1, admin_reply = $2, resolved_at = $3
		 WHERE id = $4 AND status = $5`,
		store.EscalationStatusResolved, adminReply, time.Now(),
		id, store.EscalationStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("pg: resolve escalation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGEscalationStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status = $1 WHERE status = $2 AND created_at < $3`,
		store.EscalationStatusExpired, store.EscalationStatusPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pg: expire escalations: %w", err)
	}
	return res.RowsAffected()
}

func (s *PGEscalationStore) List(ctx context.Context, opts store.EscalationListOpts) ([]store.EscalationData, error) {
	var where []string
	var args []any
	if opts.AgentID != nil {
		args = append(args, *opts.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + escalationColumns + ` FROM escalations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list escalations: %w", err)
	}
	defer rows.Close()

	var out []store.EscalationData
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanOneEscalation(row rowScanner) (*store.EscalationData, error) {
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan escalation: %w", err)
	}
	return e, nil
}

func scanEscalation(row rowScanner) (*store.EscalationData, error) {
	var e store.EscalationData
	var fwd, reply sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.AgentID, &e.Platform, &e.ChatID, &e.MessageID, &e.UserQuestion, &e.UserName,
		&fwd, &e.Status, &reply, &e.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if fwd.Valid {
		e.ForwardedMessageID = &fwd.String
	}
	if reply.Valid {
		e.AdminReply = &reply.String
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return &e, nil
}
