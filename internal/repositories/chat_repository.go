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

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrMembershipNotFound = errors.New("chat membership not found")
)

// ChatRepository abstracts chat and membership persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat models.Chat, memberIDs []int) (models.Chat, error)
	UpdateChat(ctx context.Context, chatID int, title string, memberIDs []int) error
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	GetChatByUUID(ctx context.Context, uuid string) (models.Chat, error)
	ListChatsForUser(ctx context.Context, companyID, userID, limit, offset int) ([]models.Chat, int, error)
	ResetUnreads(ctx context.Context, chatID, userID int) error
	DeleteChat(ctx context.Context, chatID int) error
}

// ChatRepo is a sqlx implementation of ChatRepository. Queries are written
// with ? placeholders and rebound for the active driver.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `c.id, c.uuid, c.title, c.owner_id, c.company_id, c.last_message, c.created_at, c.updated_at`

type chatRow struct {
	models.Chat
	OwnerName sql.NullString `db:"owner_name"`
}

type memberRow struct {
	ID       int            `db:"id"`
	ChatID   int            `db:"chat_id"`
	UserID   int            `db:"user_id"`
	Unreads  int            `db:"unreads"`
	UserName sql.NullString `db:"user_name"`
}

// CreateChat inserts the chat and one membership row per distinct member in a
// single transaction.
func (r *ChatRepo) CreateChat(ctx context.Context, chat models.Chat, memberIDs []int) (created models.Chat, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var id int
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO chats (uuid, title, owner_id, company_id, last_message, created_at, updated_at)
        VALUES (?, ?, ?, ?, '', ?, ?) RETURNING id`), chat.UUID, chat.Title, chat.OwnerID, chat.CompanyID, now, now).Scan(&id)
	if err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	for _, userID := range dedupe(memberIDs) {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chat_users (chat_id, user_id, unreads, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`),
			id, userID, now, now); err != nil {
			return models.Chat{}, fmt.Errorf("insert chat user: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return r.GetChat(ctx, id)
}

// UpdateChat sets the title and synchronises membership by diff: new members
// are inserted, removed members deleted and retained rows keep their unread
// counters.
func (r *ChatRepo) UpdateChat(ctx context.Context, chatID int, title string, memberIDs []int) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`), title, now, chatID)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrChatNotFound
		return err
	}

	var existing []int
	if err = tx.SelectContext(ctx, &existing, tx.Rebind(`SELECT user_id FROM chat_users WHERE chat_id = ?`), chatID); err != nil {
		return fmt.Errorf("load members: %w", err)
	}

	toAdd, toRemove := diffMembers(existing, dedupe(memberIDs))
	for _, userID := range toAdd {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chat_users (chat_id, user_id, unreads, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`),
			chatID, userID, now, now); err != nil {
			return fmt.Errorf("insert chat user: %w", err)
		}
	}
	if len(toRemove) > 0 {
		query, args, inErr := sqlx.In(`DELETE FROM chat_users WHERE chat_id = ? AND user_id IN (?)`, chatID, toRemove)
		if inErr != nil {
			err = inErr
			return err
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("delete chat users: %w", err)
		}
	}

	return tx.Commit()
}

// GetChat fetches a chat with its owner and members.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	return r.getChat(ctx, `c.id = ?`, chatID)
}

// GetChatByUUID fetches a chat by its external identifier.
func (r *ChatRepo) GetChatByUUID(ctx context.Context, uuid string) (models.Chat, error) {
	return r.getChat(ctx, `c.uuid = ?`, uuid)
}

func (r *ChatRepo) getChat(ctx context.Context, where string, arg any) (models.Chat, error) {
	var row chatRow
	query := `SELECT ` + chatColumns + `, u.name AS owner_name FROM chats c
        LEFT JOIN users u ON u.id = c.owner_id
        WHERE ` + where
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Chat{}, ErrChatNotFound
		}
		return models.Chat{}, err
	}

	chats := []models.Chat{row.hydrate()}
	if err := r.attachMembers(ctx, chats); err != nil {
		return models.Chat{}, err
	}
	return chats[0], nil
}

// ListChatsForUser returns the tenant's chats the user belongs to, most
// recently active first, together with the total count.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, companyID, userID, limit, offset int) ([]models.Chat, int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM chats c
        INNER JOIN chat_users cu ON cu.chat_id = c.id
        WHERE cu.user_id = ? AND c.company_id = ?`), userID, companyID); err != nil {
		return nil, 0, err
	}

	var rows []chatRow
	query := `SELECT ` + chatColumns + `, u.name AS owner_name FROM chats c
        INNER JOIN chat_users cu ON cu.chat_id = c.id
        LEFT JOIN users u ON u.id = c.owner_id
        WHERE cu.user_id = ? AND c.company_id = ?
        ORDER BY c.updated_at DESC, c.id DESC
        LIMIT ? OFFSET ?`
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), userID, companyID, limit, offset); err != nil {
		return nil, 0, err
	}

	chats := make([]models.Chat, 0, len(rows))
	for _, row := range rows {
		chats = append(chats, row.hydrate())
	}
	if err := r.attachMembers(ctx, chats); err != nil {
		return nil, 0, err
	}
	return chats, count, nil
}

// attachMembers loads memberships for all chats in one query.
func (r *ChatRepo) attachMembers(ctx context.Context, chats []models.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	ids := make([]int, 0, len(chats))
	index := make(map[int]int, len(chats))
	for i, chat := range chats {
		ids = append(ids, chat.ID)
		index[chat.ID] = i
		chats[i].Users = []models.ChatUser{}
	}

	query, args, err := sqlx.In(`SELECT cu.id, cu.chat_id, cu.user_id, cu.unreads, u.name AS user_name
        FROM chat_users cu
        LEFT JOIN users u ON u.id = cu.user_id
        WHERE cu.chat_id IN (?)
        ORDER BY cu.id ASC`, ids)
	if err != nil {
		return err
	}
	var rows []memberRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load members: %w", err)
	}

	for _, row := range rows {
		i, ok := index[row.ChatID]
		if !ok {
			continue
		}
		member := models.ChatUser{ID: row.ID, ChatID: row.ChatID, UserID: row.UserID, Unreads: row.Unreads}
		if row.UserName.Valid {
			member.User = &models.UserRef{ID: row.UserID, Name: row.UserName.String}
		}
		chats[i].Users = append(chats[i].Users, member)
	}
	return nil
}

// ResetUnreads zeroes the member's unread counter.
func (r *ChatRepo) ResetUnreads(ctx context.Context, chatID, userID int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE chat_users SET unreads = 0, updated_at = ? WHERE chat_id = ? AND user_id = ?`),
		time.Now().UTC(), chatID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// DeleteChat removes the chat together with its messages and memberships.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_messages WHERE chat_id = ?`), chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_users WHERE chat_id = ?`), chatID); err != nil {
		return fmt.Errorf("delete chat users: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chats WHERE id = ?`), chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrChatNotFound
		return err
	}
	return tx.Commit()
}

func (row chatRow) hydrate() models.Chat {
	chat := row.Chat
	if row.OwnerName.Valid {
		chat.Owner = &models.UserRef{ID: chat.OwnerID, Name: row.OwnerName.String}
	}
	return chat
}

func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func diffMembers(existing, desired []int) (toAdd, toRemove []int) {
	have := make(map[int]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}
	want := make(map[int]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range existing {
		if _, ok := want[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}
