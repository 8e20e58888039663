package storage

import (
	"chatus/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(ctx context.Context, connString string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func (pgr *PostgresRepo) Ping(ctx context.Context) error {
	return pgr.pool.Ping(ctx)
}

func (pgr *PostgresRepo) Close() {
	pgr.pool.Close()
}

// wrapErr keeps context errors as is and marks everything else as unexpected.
func wrapErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.UnexpectedDatabaseError, err)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// notFound reports a missing row or an id that is not even a uuid.
func notFound(err error) bool {
	// 22P02 is invalid_text_representation
	return errors.Is(err, pgx.ErrNoRows) || hasCode(err, "22P02")
}

func (pgr *PostgresRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	user := domain.User{Username: username}

	row := pgr.pool.QueryRow(ctx, "SELECT id, password_hash FROM users WHERE username = $1", username)
	err := row.Scan(&user.Id, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, wrapErr(err)
	}

	return user, nil
}

func (pgr *PostgresRepo) GetUserById(ctx context.Context, id string) (domain.User, error) {
	user := domain.User{Id: id}

	row := pgr.pool.QueryRow(ctx, "SELECT username, password_hash FROM users WHERE id = $1", id)
	err := row.Scan(&user.Username, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, wrapErr(err)
	}

	return user, nil
}

func (pgr *PostgresRepo) CreateUser(ctx context.Context, username string, passwordHash string) (string, error) {
	row := pgr.pool.QueryRow(ctx, "INSERT INTO users(username, password_hash) VALUES($1, $2) RETURNING id", username, passwordHash)

	var id string
	err := row.Scan(&id)
	if err != nil {
		// 23505 is unique_violation
		if hasCode(err, "23505") {
			return "", domain.ErrDuplicateUsername
		}
		return "", wrapErr(err)
	}

	return id, nil
}

func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// GetOrCreateDirectConversation returns the single conversation between
// two users, creating it on first use.
func (pgr *PostgresRepo) GetOrCreateDirectConversation(ctx context.Context, userId, peerId string) (domain.Conversation, error) {
	if userId == peerId {
		return domain.Conversation{}, domain.ErrSelfConversation
	}

	tx, err := pgr.pool.Begin(ctx)
	if err != nil {
		return domain.Conversation{}, wrapErr(err)
	}
	defer tx.Rollback(ctx)

	conv := domain.Conversation{MemberIds: [2]string{userId, peerId}}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations(direct_key) VALUES($1)
		ON CONFLICT (direct_key) DO UPDATE SET direct_key = EXCLUDED.direct_key
		RETURNING id, created_at`, directKey(userId, peerId)).Scan(&conv.Id, &conv.CreatedAt)
	if err != nil {
		return domain.Conversation{}, wrapErr(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_members(conversation_id, user_id) VALUES ($1, $2), ($1, $3)
		ON CONFLICT DO NOTHING`, conv.Id, userId, peerId)
	if err != nil {
		// 23503 is foreign_key_violation
		if hasCode(err, "23503") {
			return domain.Conversation{}, domain.ErrUserNotFound
		}
		return domain.Conversation{}, wrapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, wrapErr(err)
	}
	return conv, nil
}

// GetConversation returns the conversation if userId is one of its members.
func (pgr *PostgresRepo) GetConversation(ctx context.Context, conversationId, userId string) (domain.Conversation, error) {
	rows, err := pgr.pool.Query(ctx, `
		SELECT c.created_at, m.user_id FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE c.id = $1 ORDER BY m.user_id`, conversationId)
	if err != nil {
		if notFound(err) {
			return domain.Conversation{}, domain.ErrConversationNotFound
		}
		return domain.Conversation{}, wrapErr(err)
	}
	defer rows.Close()

	conv := domain.Conversation{Id: conversationId}
	n := 0
	member := false
	for rows.Next() {
		var uid string
		if err := rows.Scan(&conv.CreatedAt, &uid); err != nil {
			return domain.Conversation{}, wrapErr(err)
		}
		if n < len(conv.MemberIds) {
			conv.MemberIds[n] = uid
		}
		member = member || uid == userId
		n++
	}
	if err := rows.Err(); err != nil {
		if notFound(err) {
			return domain.Conversation{}, domain.ErrConversationNotFound
		}
		return domain.Conversation{}, wrapErr(err)
	}
	if n == 0 {
		return domain.Conversation{}, domain.ErrConversationNotFound
	}
	if !member {
		return domain.Conversation{}, domain.ErrNotAMember
	}
	return conv, nil
}

// ListConversations returns the user's conversations, the most recently
// active first, with the number of unread peer messages.
func (pgr *PostgresRepo) ListConversations(ctx context.Context, userId string) ([]domain.ConversationSummary, error) {
	rows, err := pgr.pool.Query(ctx, `
		SELECT c.id, peer.id, peer.username,
			COALESCE((SELECT max(created_at) FROM messages WHERE conversation_id = c.id), c.created_at) AS last_at,
			(SELECT count(*) FROM messages msg
				WHERE msg.conversation_id = c.id
				AND msg.sender_id <> $1
				AND msg.deleted_at IS NULL
				AND msg.created_at > COALESCE(rm.read_at, '-infinity'::timestamptz)) AS unread
		FROM conversation_members me
		JOIN conversations c ON c.id = me.conversation_id
		JOIN conversation_members pm ON pm.conversation_id = c.id AND pm.user_id <> $1
		JOIN users peer ON peer.id = pm.user_id
		LEFT JOIN read_markers rm ON rm.conversation_id = c.id AND rm.user_id = $1
		WHERE me.user_id = $1
		ORDER BY last_at DESC`, userId)
	if err != nil {
		return nil, wrapErr(err)
	}

	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ConversationSummary, error) {
		var s domain.ConversationSummary
		err := row.Scan(&s.Id, &s.PeerId, &s.PeerUsername, &s.LastMessageAt, &s.UnreadCount)
		return s, err
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return summaries, nil
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, u.username,
	CASE WHEN m.deleted_at IS NULL THEN m.text ELSE '' END,
	m.created_at, m.edited_at, m.deleted_at IS NOT NULL`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var msg domain.Message
	err := row.Scan(&msg.Id, &msg.ConversationId, &msg.SenderId, &msg.SenderName,
		&msg.Text, &msg.CreatedAt, &msg.EditedAt, &msg.Deleted)
	return msg, err
}

// InsertMessage stores a message stamped at millisecond precision, one
// millisecond after the conversation's latest message if the clock has not
// moved past it. A millisecond cursor therefore never splits two messages.
func (pgr *PostgresRepo) InsertMessage(ctx context.Context, conversationId, senderId, text string) (domain.Message, error) {
	row := pgr.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages(conversation_id, sender_id, text, created_at)
			SELECT $1::uuid, $2::uuid, $3,
				GREATEST(date_trunc('milliseconds', clock_timestamp()), max(created_at) + interval '1 millisecond')
			FROM messages WHERE conversation_id = $1::uuid
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.sender_id`,
		conversationId, senderId, text)

	msg, err := scanMessage(row)
	if err != nil {
		return domain.Message{}, wrapErr(err)
	}
	return msg, nil
}

// checkAuthor distinguishes a missing message from someone else's message.
func (pgr *PostgresRepo) checkAuthor(ctx context.Context, conversationId, messageId, senderId string) error {
	var owner string
	err := pgr.pool.QueryRow(ctx, "SELECT sender_id FROM messages WHERE id = $1 AND conversation_id = $2",
		messageId, conversationId).Scan(&owner)
	if err != nil {
		if notFound(err) {
			return domain.ErrMessageNotFound
		}
		return wrapErr(err)
	}
	if owner != senderId {
		return domain.ErrNotMessageAuthor
	}
	// the message exists and is ours but the update matched nothing, so it is deleted
	return domain.ErrMessageNotFound
}

// UpdateMessageText edits a live message. Only its sender may edit it.
func (pgr *PostgresRepo) UpdateMessageText(ctx context.Context, conversationId, messageId, senderId, text string) (domain.Message, error) {
	row := pgr.pool.QueryRow(ctx, `
		WITH m AS (
			UPDATE messages SET text = $4, edited_at = now()
			WHERE id = $1 AND conversation_id = $2 AND sender_id = $3 AND deleted_at IS NULL
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.sender_id`,
		messageId, conversationId, senderId, text)

	msg, err := scanMessage(row)
	if err != nil {
		if notFound(err) {
			return domain.Message{}, pgr.checkAuthor(ctx, conversationId, messageId, senderId)
		}
		return domain.Message{}, wrapErr(err)
	}
	return msg, nil
}

// DeleteMessage soft deletes a message. The row stays so that history
// paging and read markers keep their anchors.
func (pgr *PostgresRepo) DeleteMessage(ctx context.Context, conversationId, messageId, senderId string) (domain.Message, error) {
	row := pgr.pool.QueryRow(ctx, `
		WITH m AS (
			UPDATE messages SET deleted_at = now()
			WHERE id = $1 AND conversation_id = $2 AND sender_id = $3 AND deleted_at IS NULL
			RETURNING *
		)
		SELECT `+messageColumns+` FROM m JOIN users u ON u.id = m.sender_id`,
		messageId, conversationId, senderId)

	msg, err := scanMessage(row)
	if err != nil {
		if notFound(err) {
			return domain.Message{}, pgr.checkAuthor(ctx, conversationId, messageId, senderId)
		}
		return domain.Message{}, wrapErr(err)
	}
	return msg, nil
}

// ListMessages returns up to limit messages created strictly before the
// given time, oldest first. A zero before means the latest page.
func (pgr *PostgresRepo) ListMessages(ctx context.Context, conversationId string, before time.Time, limit int) ([]domain.Message, bool, error) {
	if before.IsZero() {
		before = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	rows, err := pgr.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1 AND m.created_at < $2
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3`, conversationId, before, limit+1)
	if err != nil {
		return nil, false, wrapErr(err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, false, wrapErr(err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, hasMore, nil
}

// MarkRead moves the user's read marker forward to the given message.
// Markers never move backwards.
func (pgr *PostgresRepo) MarkRead(ctx context.Context, conversationId, userId, messageId string) error {
	tag, err := pgr.pool.Exec(ctx, `
		INSERT INTO read_markers(conversation_id, user_id, message_id, read_at)
		SELECT $1, $2, m.id, m.created_at FROM messages m
		WHERE m.id = $3 AND m.conversation_id = $1
		ON CONFLICT (conversation_id, user_id) DO UPDATE
			SET message_id = EXCLUDED.message_id, read_at = EXCLUDED.read_at
			WHERE read_markers.read_at < EXCLUDED.read_at`, conversationId, userId, messageId)
	if err != nil {
		if notFound(err) {
			return domain.ErrMessageNotFound
		}
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := pgr.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2)",
			messageId, conversationId).Scan(&exists)
		if err != nil {
			return wrapErr(err)
		}
		if !exists {
			return domain.ErrMessageNotFound
		}
	}
	return nil
}
