package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// NewMessage is the input of AppendMessage.
type NewMessage struct {
	ChatID      int
	SenderID    int
	Text        string
	Files       models.Attachments
	LastMessage string
}

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, in NewMessage) (models.ChatMessage, error)
	GetMessage(ctx context.Context, messageID int) (models.ChatMessage, error)
	ListMessages(ctx context.Context, chatID, limit, offset int) ([]models.ChatMessage, int, error)
	ListMessagesWithMedia(ctx context.Context, chatID int) ([]models.ChatMessage, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.message, m.files, m.media_path, m.media_name, m.created_at`

type messageRow struct {
	models.ChatMessage
	SenderName sql.NullString `db:"sender_name"`
}

func (row messageRow) hydrate() models.ChatMessage {
	msg := row.ChatMessage
	if msg.Files == nil {
		msg.Files = models.Attachments{}
	}
	if row.SenderName.Valid {
		msg.Sender = &models.UserRef{ID: msg.SenderID, Name: row.SenderName.String}
	}
	return msg
}

// AppendMessage stores a message and applies its side effects in one
// transaction: the chat preview is replaced, the sender's unread counter is
// reset and every other member's counter is incremented in a single statement.
func (r *MessageRepo) AppendMessage(ctx context.Context, in NewMessage) (msg models.ChatMessage, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ChatMessage{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	files := in.Files
	if files == nil {
		files = models.Attachments{}
	}

	var id int
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO chat_messages (chat_id, sender_id, message, files, created_at)
        VALUES (?, ?, ?, ?, ?) RETURNING id`), in.ChatID, in.SenderID, in.Text, files, now).Scan(&id)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chats SET last_message = ?, updated_at = ? WHERE id = ?`), in.LastMessage, now, in.ChatID)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("update last message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrChatNotFound
		return models.ChatMessage{}, err
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE chat_users
        SET unreads = CASE WHEN user_id = ? THEN 0 ELSE unreads + 1 END, updated_at = ?
        WHERE chat_id = ?`), in.SenderID, now, in.ChatID); err != nil {
		return models.ChatMessage{}, fmt.Errorf("update unreads: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return models.ChatMessage{}, err
	}
	return r.GetMessage(ctx, id)
}

// GetMessage retrieves a single message with its sender.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.ChatMessage, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+messageColumns+`, u.name AS sender_name
        FROM chat_messages m
        LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.id = ?`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return models.ChatMessage{}, err
	}
	return row.hydrate(), nil
}

// ListMessages returns a page of messages, newest first, and the total count.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID, limit, offset int) ([]models.ChatMessage, int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM chat_messages WHERE chat_id = ?`), chatID); err != nil {
		return nil, 0, err
	}

	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT `+messageColumns+`, u.name AS sender_name
        FROM chat_messages m
        LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.chat_id = ?
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT ? OFFSET ?`), chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	msgs := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.hydrate())
	}
	return msgs, count, nil
}

// ListMessagesWithMedia returns every message of the chat that references a
// file, either through files or the legacy media_path column.
func (r *MessageRepo) ListMessagesWithMedia(ctx context.Context, chatID int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(`SELECT `+messageColumns+` FROM chat_messages m
        WHERE m.chat_id = ? ORDER BY m.id ASC`), chatID)
	if err != nil {
		return nil, err
	}

	out := msgs[:0]
	for _, m := range msgs {
		if len(m.Files) > 0 || (m.MediaPath != nil && *m.MediaPath != "") {
			out = append(out, m)
		}
	}
	return out, nil
}
