package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// SubjectChatStore implements domain.SubjectChatStore using PostgreSQL.
type SubjectChatStore struct {
	pool *pgxpool.Pool
}

// NewSubjectChatStore creates a SubjectChatStore backed by the given pool.
func NewSubjectChatStore(pool *pgxpool.Pool) *SubjectChatStore {
	return &SubjectChatStore{pool: pool}
}

const subjectChatCols = `agent_name, subject_address, chain_id, bot_token,
	chat_group_id, invite_url, bio, created_at`

func scanSubjectChat(row pgx.Row) (domain.SubjectChat, error) {
	var sc domain.SubjectChat
	err := row.Scan(
		&sc.AgentName, &sc.SubjectAddress, &sc.ChainID, &sc.BotToken,
		&sc.ChatGroupID, &sc.InviteURL, &sc.Bio, &sc.CreatedAt,
	)
	return sc, err
}

// Create inserts a subject chat binding. domain.ErrAlreadyExists is returned
// when either the agent name or the (subject, chain) pair is taken.
func (s *SubjectChatStore) Create(ctx context.Context, sc domain.SubjectChat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subject_chats (
			agent_name, subject_address, chain_id, bot_token,
			chat_group_id, invite_url, bio
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sc.AgentName, sc.SubjectAddress, sc.ChainID, sc.BotToken,
		sc.ChatGroupID, sc.InviteURL, sc.Bio,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: subject chat %s", domain.ErrAlreadyExists, sc.AgentName)
	}
	if err != nil {
		return fmt.Errorf("postgres: create subject chat: %w", err)
	}
	return nil
}

// GetBySubject returns the chat bound to a subject address on a chain, or
// domain.ErrNotFound.
func (s *SubjectChatStore) GetBySubject(ctx context.Context, subject, chainID string) (domain.SubjectChat, error) {
	sc, err := scanSubjectChat(s.pool.QueryRow(ctx,
		`SELECT `+subjectChatCols+` FROM subject_chats WHERE subject_address = $1 AND chain_id = $2`,
		subject, chainID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubjectChat{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SubjectChat{}, fmt.Errorf("postgres: get subject chat by subject: %w", err)
	}
	return sc, nil
}

// GetByAgentName returns the chat registered under an agent name, or
// domain.ErrNotFound.
func (s *SubjectChatStore) GetByAgentName(ctx context.Context, name string) (domain.SubjectChat, error) {
	sc, err := scanSubjectChat(s.pool.QueryRow(ctx,
		`SELECT `+subjectChatCols+` FROM subject_chats WHERE agent_name = $1`,
		name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubjectChat{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SubjectChat{}, fmt.Errorf("postgres: get subject chat by name: %w", err)
	}
	return sc, nil
}

// List returns subject chats ordered by creation time, newest first, with
// pagination.
func (s *SubjectChatStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SubjectChat, error) {
	query := `SELECT ` + subjectChatCols + ` FROM subject_chats ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subject chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.SubjectChat
	for rows.Next() {
		sc, err := scanSubjectChat(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan subject chat: %w", err)
		}
		chats = append(chats, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subject chats: %w", err)
	}
	return chats, nil
}

// Count returns the total number of subject chats.
func (s *SubjectChatStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subject_chats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count subject chats: %w", err)
	}
	return n, nil
}
