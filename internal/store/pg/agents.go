package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rishsane/humuter-sub000/internal/store"
)

// feedbackLoadLimit bounds how many recent feedback rows are attached to a
// loaded profile.
const feedbackLoadLimit = 100

const agentColumns = `id, agent_key, name, plan, status, description, system_prompt,
	provider, model, auto_moderate, response_delay,
	messages_handled, tokens_used, daily_message_count, daily_message_date,
	created_at, updated_at`

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

func (s *PGAgentStore) Create(ctx context.Context, a *store.AgentData) error {
	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Plan == "" {
		a.Plan = store.PlanFree
	}
	if a.Status == "" {
		a.Status = store.AgentStatusActive
	}
	if a.ResponseDelay == "" {
		a.ResponseDelay = store.ResponseDelayInstant
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var autoMod sql.NullBool
	if a.AutoModerate != nil {
		autoMod = sql.NullBool{Bool: *a.AutoModerate, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (id, agent_key, name, plan, status, description, system_prompt,
		 provider, model, auto_moderate, response_delay,
		 messages_handled, tokens_used, daily_message_count, daily_message_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.Key, a.Name, a.Plan, a.Status, a.Description, a.SystemPrompt,
		a.Provider, a.Model, autoMod, a.ResponseDelay,
		a.MessagesHandled, a.TokensUsed, a.DailyMessageCount, a.DailyMessageDate, now, now,
	)
	if err != nil {
		return fmt.Errorf("pg: insert agent: %w", err)
	}

	for _, ch := range channelSet(a) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO agent_channels (agent_id, channel, scope_ids, whitelist, supervisor_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			a.ID, ch, pq.Array(a.Routes[ch]), pq.Array(a.WhitelistFor(ch)), nullString(a.SupervisorFor(ch)),
		)
		if err != nil {
			return fmt.Errorf("pg: insert agent channel %s: %w", ch, err)
		}
	}

	for _, f := range a.TrainingData.FAQ {
		if err := insertFAQ(ctx, tx, a.ID, f); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PGAgentStore) Get(ctx context.Context, id uuid.UUID) (*store.AgentData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return s.load(ctx, row)
}

func (s *PGAgentStore) GetByKey(ctx context.Context, key string) (*store.AgentData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_key = $1`, key)
	return s.load(ctx, row)
}

func (s *PGAgentStore) GetByRoute(ctx context.Context, channel, scopeID string) (*store.AgentData, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id FROM agent_channels WHERE channel = $1 AND $2 = ANY(scope_ids) LIMIT 1`,
		channel, scopeID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: route lookup: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PGAgentStore) List(ctx context.Context) ([]store.AgentData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AgentData
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PGAgentStore) GetUsage(ctx context.Context, id uuid.UUID) (*store.Usage, error) {
	var u store.Usage
	var dailyDate sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT messages_handled, tokens_used, daily_message_count, daily_message_date FROM agents WHERE id = $1`, id,
	).Scan(&u.MessagesHandled, &u.TokensUsed, &u.DailyMessageCount, &dailyDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get usage: %w", err)
	}
	u.DailyMessageDate = dailyDate.String
	return &u, nil
}

func (s *PGAgentStore) IncrementUsage(ctx context.Context, id uuid.UUID, d store.UsageDelta) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET
		   messages_handled = messages_handled + $1,
		   tokens_used = tokens_used + $2,
		   daily_message_count = CASE WHEN daily_message_date = $4 THEN daily_message_count + $3 ELSE $3 END,
		   daily_message_date = $4,
		   updated_at = $5
		 WHERE id = $6`,
		d.Messages, d.Tokens, d.DailyMessages, d.Date, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("pg: increment usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGAgentStore) ResetDailyCount(ctx context.Context, id uuid.UUID, today string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET daily_message_count = 0, daily_message_date = $1, updated_at = $2
		 WHERE id = $3 AND daily_message_date IS DISTINCT FROM $1`,
		today, time.Now(), id,
	)
	if err != nil {
		return false, fmt.Errorf("pg: reset daily count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGAgentStore) AppendFAQ(ctx context.Context, id uuid.UUID, entry store.FAQEntry) error {
	return insertFAQ(ctx, s.db, id, entry)
}

func (s *PGAgentStore) AppendFeedback(ctx context.Context, id uuid.UUID, entry store.FeedbackEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_feedback (id, agent_id, channel, chat_id, user_name, feedback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		store.GenNewID(), id, entry.Channel, entry.ChatID, entry.UserName, entry.Feedback, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: append feedback: %w", err)
	}
	return nil
}

// --- helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func insertFAQ(ctx context.Context, db execer, agentID uuid.UUID, f store.FAQEntry) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO agent_faq (id, agent_id, question, answer, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		store.GenNewID(), agentID, f.Question, f.Answer, f.Source, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: append faq: %w", err)
	}
	return nil
}

func (s *PGAgentStore) load(ctx context.Context, row rowScanner) (*store.AgentData, error) {
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan agent: %w", err)
	}
	if err := s.loadChannels(ctx, a); err != nil {
		return nil, err
	}
	if err := s.loadTraining(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func scanAgent(row rowScanner) (*store.AgentData, error) {
	var a store.AgentData
	var autoMod sql.NullBool
	var dailyDate sql.NullString
	err := row.Scan(
		&a.ID, &a.Key, &a.Name, &a.Plan, &a.Status, &a.Description, &a.SystemPrompt,
		&a.Provider, &a.Model, &autoMod, &a.ResponseDelay,
		&a.MessagesHandled, &a.TokensUsed, &a.DailyMessageCount, &dailyDate,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if autoMod.Valid {
		v := autoMod.Bool
		a.AutoModerate = &v
	}
	a.DailyMessageDate = dailyDate.String
	return &a, nil
}

func (s *PGAgentStore) loadChannels(ctx context.Context, a *store.AgentData) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, scope_ids, whitelist, supervisor_id FROM agent_channels WHERE agent_id = $1`, a.ID)
	if err != nil {
		return fmt.Errorf("pg: load agent channels: %w", err)
	}
	defer rows.Close()

	a.Routes = map[string][]string{}
	a.Whitelist = map[string][]string{}
	a.Supervisors = map[string]string{}
	for rows.Next() {
		var ch string
		var scopes, whitelist []string
		var supervisor sql.NullString
		if err := rows.Scan(&ch, pq.Array(&scopes), pq.Array(&whitelist), &supervisor); err != nil {
			return err
		}
		if len(scopes) > 0 {
			a.Routes[ch] = scopes
		}
		if len(whitelist) > 0 {
			a.Whitelist[ch] = whitelist
		}
		if supervisor.Valid && supervisor.String != "" {
			a.Supervisors[ch] = supervisor.String
		}
	}
	return rows.Err()
}

func (s *PGAgentStore) loadTraining(ctx context.Context, a *store.AgentData) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question, answer, source, created_at FROM agent_faq WHERE agent_id = $1 ORDER BY created_at`, a.ID)
	if err != nil {
		return fmt.Errorf("pg: load faq: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f store.FAQEntry
		if err := rows.Scan(&f.Question, &f.Answer, &f.Source, &f.CreatedAt); err != nil {
			return err
		}
		a.TrainingData.FAQ = append(a.TrainingData.FAQ, f)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fbRows, err := s.db.QueryContext(ctx,
		`SELECT channel, chat_id, user_name, feedback, created_at FROM agent_feedback
		 WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, a.ID, feedbackLoadLimit)
	if err != nil {
		return fmt.Errorf("pg: load feedback: %w", err)
	}
	defer fbRows.Close()
	for fbRows.Next() {
		var f store.FeedbackEntry
		if err := fbRows.Scan(&f.Channel, &f.ChatID, &f.UserName, &f.Feedback, &f.CreatedAt); err != nil {
			return err
		}
		a.TrainingData.Feedback = append(a.TrainingData.Feedback, f)
	}
	return fbRows.Err()
}

// channelSet returns every channel the agent has routing, whitelist or
// supervisor configuration for.
func channelSet(a *store.AgentData) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ch string) {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	for ch := range a.Routes {
		add(ch)
	}
	for ch := range a.Whitelist {
		add(ch)
	}
	for ch := range a.Supervisors {
		add(ch)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
