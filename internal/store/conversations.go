package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

const conversationColumns = `
	id, participant_one, participant_two, last_message, last_message_at,
	last_sender_id, unread_count, created_at, updated_at`

func scanConversation(row scanner) (*models.Conversation, error) {
	c := &models.Conversation{}
	var (
		lastAt     sql.NullTime
		lastSender sql.NullInt64
	)
	err := row.Scan(
		&c.ID,
		&c.ParticipantOne,
		&c.ParticipantTwo,
		&c.LastMessage,
		&lastAt,
		&lastSender,
		&c.UnreadCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	c.LastMessageAt = nullTimePtr(lastAt)
	c.LastSenderID = nullInt64Ptr(lastSender)
	return c, err
}

func orderedPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// GetOrCreateConversation returns the conversation between userID and
// otherID, creating it on first contact.
func GetOrCreateConversation(ctx context.Context, db *sql.DB, userID, otherID int64) (*models.Conversation, error) {
	if userID == otherID {
		return nil, database.ErrForbidden
	}
	one, two := orderedPair(userID, otherID)

	// DO UPDATE so RETURNING yields the existing row on conflict
	query := `
		INSERT INTO conversations (participant_one, participant_two, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (participant_one, participant_two)
		DO UPDATE SET participant_one = EXCLUDED.participant_one
		RETURNING ` + conversationColumns

	conv, err := scanConversation(db.QueryRowContext(ctx, query, one, two))
	if err != nil {
		if database.IsConstraintViolation(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads a conversation userID takes part in.
func GetConversation(ctx context.Context, db *sql.DB, id, userID int64) (*models.Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.Has(userID) {
		return nil, database.ErrConversationNotFound
	}
	return conv, nil
}

func ListConversations(ctx context.Context, db *sql.DB, userID int64) ([]models.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_one = $1 OR participant_two = $1
		ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return convs, nil
}

// SendMessage stores a message from senderID and refreshes the cached last
// message fields. unread_count keeps growing while the same participant
// keeps writing and restarts at 1 when the other one replies.
func SendMessage(ctx context.Context, db *sql.DB, conversationID, senderID int64, body string) (*models.PrivateMessage, error) {
	var msg *models.PrivateMessage

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		conv, err := scanConversation(tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, conversationID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrConversationNotFound
			}
			return fmt.Errorf("lock conversation: %w", err)
		}
		if !conv.Has(senderID) {
			return database.ErrConversationNotFound
		}

		m := &models.PrivateMessage{}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO private_messages (conversation_id, sender_id, recipient_id, body, read, created_at)
			VALUES ($1, $2, $3, $4, FALSE, NOW())
			RETURNING id, conversation_id, sender_id, recipient_id, body, read, created_at`,
			conversationID, senderID, conv.Other(senderID), body,
		).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Body, &m.Read, &m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations
			SET last_message = $1,
			    last_message_at = $2,
			    unread_count = CASE WHEN last_sender_id = $3 THEN unread_count + 1 ELSE 1 END,
			    last_sender_id = $3,
			    updated_at = NOW()
			WHERE id = $4`,
			body, m.CreatedAt, senderID, conversationID)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}

		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns up to limit messages of a conversation in
// chronological order, starting after afterID.
func ListMessages(ctx context.Context, db *sql.DB, conversationID, userID, afterID int64, limit int) ([]models.PrivateMessage, error) {
	if _, err := GetConversation(ctx, db, conversationID, userID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, recipient_id, body, read, created_at
		FROM private_messages
		WHERE conversation_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3`, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.PrivateMessage{}
	for rows.Next() {
		var m models.PrivateMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return msgs, nil
}

// MarkConversationRead marks every message addressed to userID as read and
// clears unread_count unless userID wrote the last message.
func MarkConversationRead(ctx context.Context, db *sql.DB, conversationID, userID int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var one, two int64
		err := tx.QueryRowContext(ctx,
			`SELECT participant_one, participant_two FROM conversations WHERE id = $1 FOR UPDATE`,
			conversationID).Scan(&one, &two)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrConversationNotFound
			}
			return fmt.Errorf("lock conversation: %w", err)
		}
		if one != userID && two != userID {
			return database.ErrConversationNotFound
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE private_messages SET read = TRUE WHERE conversation_id = $1 AND recipient_id = $2 AND NOT read`,
			conversationID, userID)
		if err != nil {
			return fmt.Errorf("mark messages read: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations
			SET unread_count = 0, updated_at = NOW()
			WHERE id = $1 AND last_sender_id IS DISTINCT FROM $2`,
			conversationID, userID)
		if err != nil {
			return fmt.Errorf("reset unread count: %w", err)
		}
		return nil
	})
}
