package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/nestboard/messaging/internal/models"
)

// SQLiteStore handles SQLite database operations. It backs local development
// and tests; production uses PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/messaging.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/messaging.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT DEFAULT '',
		avatar TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		participant_lo TEXT NOT NULL,
		participant_hi TEXT NOT NULL,
		last_message TEXT NOT NULL DEFAULT '',
		seen_by TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (participant_lo, participant_hi),
		CHECK (participant_lo < participant_hi)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		author_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_lo ON conversations(participant_lo);
	CREATE INDEX IF NOT EXISTS idx_conversations_hi ON conversations(participant_hi);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, avatar string) (*models.User, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, avatar, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), username, email, avatar, now)
	if err != nil {
		return nil, err
	}

	return &models.User{ID: id, Username: username, Email: email, Avatar: avatar, CreatedAt: now}, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, avatar, created_at
		FROM users WHERE id = ?
	`, id.String()).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Avatar,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListConversations retrieves all conversations the user participates in,
// most recently created first, each with the other participant's summary.
// A missing companion account yields a nil Companion, never an error.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationSummary, error) {
	uid := userID.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.participant_lo, c.participant_hi, c.last_message, c.seen_by, c.created_at,
		       u.id, u.username, u.avatar
		FROM conversations c
		LEFT JOIN users u ON u.id = CASE WHEN c.participant_lo = ? THEN c.participant_hi ELSE c.participant_lo END
		WHERE c.participant_lo = ? OR c.participant_hi = ?
		ORDER BY c.created_at DESC
	`, uid, uid, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var (
			summary     models.ConversationSummary
			lo, hi      string
			seenByJSON  []byte
			companionID sql.NullString
			username    sql.NullString
			avatar      sql.NullString
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

		if err := fillConversation(&summary.Conversation, lo, hi, seenByJSON); err != nil {
			return nil, err
		}
		if companionID.Valid {
			cid, err := uuid.Parse(companionID.String)
			if err != nil {
				return nil, err
			}
			summary.Companion = &models.UserSummary{ID: cid, Username: username.String, Avatar: avatar.String}
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// GetConversation retrieves a conversation and its messages oldest-first,
// scoped to participants. Viewing is a read-receipt event: if the requester
// is not yet in seen_by, they are added and the row persisted before the
// result is returned.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, []models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.QueryRowContext(ctx, `
		SELECT id, participant_lo, participant_hi, last_message, seen_by, created_at
		FROM conversations
		WHERE id = ? AND (participant_lo = ? OR participant_hi = ?)
	`, conversationID.String(), userID.String(), userID.String()))
	if err != nil {
		return nil, nil, err
	}

	if !conv.SeenByUser(userID) {
		conv.SeenBy = append(conv.SeenBy, userID)
		if err := updateSeenByTx(ctx, tx, conv.ID, conv.SeenBy); err != nil {
			return nil, nil, err
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, conversation_id, author_id, text, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, conversationID.String())
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.AuthorID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return conv, messages, nil
}

// StartConversation returns the existing conversation between the pair or
// creates one with seen_by = [userID]. The unique (lo, hi) constraint makes
// concurrent creation by both participants yield exactly one row.
func (s *SQLiteStore) StartConversation(ctx context.Context, userID, otherUserID uuid.UUID) (*models.Conversation, error) {
	lo, hi := models.NormalizePair(userID, otherUserID)
	id := uuid.New()
	now := time.Now().UTC()

	seenBy, err := json.Marshal(seenByValues([]uuid.UUID{userID}))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_lo, participant_hi, last_message, seen_by, created_at)
		VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT (participant_lo, participant_hi) DO NOTHING
	`, id.String(), lo.String(), hi.String(), string(seenBy), now)
	if err != nil {
		return nil, err
	}

	// Re-select by pair: either the row just inserted or the one that won
	// the race.
	return scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, participant_lo, participant_hi, last_message, seen_by, created_at
		FROM conversations
		WHERE participant_lo = ? AND participant_hi = ?
	`, lo.String(), hi.String()))
}

// MarkConversationRead resets seen_by to exactly [userID] when the requester
// is a participant. Idempotent. The full-row UPDATE keeps the write atomic
// with respect to concurrent message creation.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	seenBy, err := json.Marshal(seenByValues([]uuid.UUID{userID}))
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET seen_by = ?
		WHERE id = ? AND (participant_lo = ? OR participant_hi = ?)
	`, string(seenBy), conversationID.String(), userID.String(), userID.String())
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	return scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, participant_lo, participant_hi, last_message, seen_by, created_at
		FROM conversations WHERE id = ?
	`, conversationID.String()))
}

// DeleteConversation removes a conversation and all of its messages in one
// transaction. Participation is required; a non-participant acting on an
// existing conversation gets ErrForbidden.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lo, hi string
	err = tx.QueryRowContext(ctx, `
		SELECT participant_lo, participant_hi FROM conversations WHERE id = ?
	`, conversationID.String()).Scan(&lo, &hi)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	uid := userID.String()
	if uid != lo && uid != hi {
		return ErrForbidden
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID.String()); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateMessage persists a message and updates the owning conversation's
// last_message and seen_by = [author] as one transaction. A failure on
// either write leaves the conversation untouched.
func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID, authorID uuid.UUID, text string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM conversations
		WHERE id = ? AND (participant_lo = ? OR participant_hi = ?)
	`, conversationID.String(), authorID.String(), authorID.String()).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	msg := &models.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, author_id, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, conversationID.String(), authorID.String(), text, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	seenBy, err := json.Marshal(seenByValues([]uuid.UUID{authorID}))
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message = ?, seen_by = ? WHERE id = ?
	`, text, string(seenBy), conversationID.String())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConversation reads a conversation row ordered as
// (id, participant_lo, participant_hi, last_message, seen_by, created_at).
func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv       models.Conversation
		lo, hi     string
		seenByJSON []byte
	)
	err := row.Scan(&conv.ID, &lo, &hi, &conv.LastMessage, &seenByJSON, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := fillConversation(&conv, lo, hi, seenByJSON); err != nil {
		return nil, err
	}
	return &conv, nil
}

func fillConversation(conv *models.Conversation, lo, hi string, seenByJSON []byte) error {
	loID, err := uuid.Parse(lo)
	if err != nil {
		return err
	}
	hiID, err := uuid.Parse(hi)
	if err != nil {
		return err
	}
	conv.ParticipantIDs = []uuid.UUID{loID, hiID}

	var values []string
	if err := json.Unmarshal(seenByJSON, &values); err != nil {
		return err
	}
	conv.SeenBy, err = parseSeenBy(values)
	return err
}

func updateSeenByTx(ctx context.Context, tx *sql.Tx, conversationID uuid.UUID, seenBy []uuid.UUID) error {
	data, err := json.Marshal(seenByValues(seenBy))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET seen_by = ? WHERE id = ?`, string(data), conversationID.String())
	return err
}
