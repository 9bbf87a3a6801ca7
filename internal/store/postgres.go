package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/nestboard/messaging/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, email, avatar string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, avatar)
		VALUES ($1, $2, $3)
		RETURNING id, username, email, avatar, created_at
	`, username, email, avatar).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Avatar,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, avatar, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Avatar,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListConversations retrieves all conversations the user participates in,
// most recently created first, with companion summaries. A deleted companion
// account yields a nil Companion.
func (s *PostgresStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.participant_lo, c.participant_hi, c.last_message, c.seen_by, c.created_at,
		       u.id, u.username, u.avatar
		FROM conversations c
		LEFT JOIN users u ON u.id = CASE WHEN c.participant_lo = $1 THEN c.participant_hi ELSE c.participant_lo END
		WHERE c.participant_lo = $1 OR c.participant_hi = $1
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var (
			summary     models.ConversationSummary
			lo, hi      uuid.UUID
			seenByJSON  []byte
			companionID *uuid.UUID
			username    *string
			avatar      *string
		)
		err := rows.Scan(
			&summary.ID,
			&lo,
			&hi,
			&summary.LastMessage,
			&seenByJSON,
			&summary.CreatedAt,
			&companionID,
			&username,
			&avatar,
		)
		if err != nil {
			return nil, err
		}

		summary.ParticipantIDs = []uuid.UUID{lo, hi}
		if summary.SeenBy, err = decodeSeenByJSON(seenByJSON); err != nil {
			return nil, err
		}
		if companionID != nil {
			companion := &models.UserSummary{ID: *companionID}
			if username != nil {
				companion.Username = *username
			}
			if avatar != nil {
				companion.Avatar = *avatar
			}
			summary.Companion = companion
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// GetConversation retrieves a conversation and its messages oldest-first,
// scoped to participants. The requester is appended to seen_by and the row
// persisted before the result is returned.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, []models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	conv, err := scanPgConversation(tx.QueryRow(ctx, `
		SELECT id, participant_lo, participant_hi, last_message, seen_by, created_at
		FROM conversations
		WHERE id = $1 AND (participant_lo = $2 OR participant_hi = $2)
		FOR UPDATE
	`, conversationID, userID))
	if err != nil {
		return nil, nil, err
	}

	if !conv.SeenByUser(userID) {
		conv.SeenBy = append(conv.SeenBy, userID)
		data, err := json.Marshal(seenByValues(conv.SeenBy))
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE conversations SET seen_by = $1 WHERE id = $2`, data, conv.ID); err != nil {
			return nil, nil, err
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT id, conversation_id, author_id, text, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, nil, err
	}

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.AuthorID, &msg.Text, &msg.CreatedAt); err != nil {
			rows.Close()
			return nil, nil, err
		}
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return conv, messages, nil
}

// StartConversation returns the existing conversation between the pair or
// creates one with seen_by = [userID]. ON CONFLICT DO NOTHING plus the
// re-select resolves concurrent creation by both participants.
func (s *PostgresStore) StartConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*models.Conversation, error) {
	lo, hi := models.NormalizePair(userID, otherUserID)

	seenBy, err := json.Marshal(seenByValues([]uuid.UUID{userID}))
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (participant_lo, participant_hi, seen_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_lo, participant_hi) DO NOTHING
	`, lo, hi, seenBy)
	if err != nil {
		return nil, err
	}

	return scanPgConversation(s.pool.QueryRow(ctx, `
		SELECT id, participant_lo, participant_hi, last_message, seen_by, created_at
		FROM conversations
		WHERE participant_lo = $1 AND participant_hi = $2
	`, lo, hi))
}

// MarkConversationRead resets seen_by to exactly [userID] for participants.
// Idempotent; the single UPDATE is atomic against concurrent mutations.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	seenBy, err := json.Marshal(seenByValues([]uuid.UUID{userID}))
	if err != nil {
		return nil, err
	}

	return scanPgConversation(s.pool.QueryRow(ctx, `
		UPDATE conversations SET seen_by = $1
		WHERE id = $2 AND (participant_lo = $3 OR participant_hi = $3)
		RETURNING id, participant_lo, participant_hi, last_message, seen_by, created_at
	`, seenBy, conversationID, userID))
}

// DeleteConversation removes the conversation and its messages in one
// transaction.
func (s *PostgresStore) DeleteConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var lo, hi uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT participant_lo, participant_hi FROM conversations WHERE id = $1 FOR UPDATE
	`, conversationID).Scan(&lo, &hi)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if userID != lo && userID != hi {
		return ErrForbidden
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateMessage persists a message and updates the owning conversation's
// last_message and seen_by = [author] in one transaction.
func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID, authorID uuid.UUID, text string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx, `
		SELECT 1 FROM conversations
		WHERE id = $1 AND (participant_lo = $2 OR participant_hi = $2)
		FOR UPDATE
	`, conversationID, authorID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	msg := &models.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Text:           text,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, author_id, text)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, msg.ID, conversationID, authorID, text).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	seenBy, err := json.Marshal(seenByValues([]uuid.UUID{authorID}))
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET last_message = $1, seen_by = $2 WHERE id = $3
	`, text, seenBy, conversationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func scanPgConversation(row pgx.Row) (*models.Conversation, error) {
	var (
		conv       models.Conversation
		lo, hi     uuid.UUID
		seenByJSON []byte
	)
	err := row.Scan(&conv.ID, &lo, &hi, &conv.LastMessage, &seenByJSON, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	conv.ParticipantIDs = []uuid.UUID{lo, hi}
	conv.SeenBy, err = decodeSeenByJSON(seenByJSON)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func decodeSeenByJSON(data []byte) ([]uuid.UUID, error) {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return parseSeenBy(values)
}
