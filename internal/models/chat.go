package models

import "time"

// UserRef is the minimal user projection embedded in chat payloads.
type UserRef struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Chat is a tenant-scoped group conversation.
type Chat struct {
	ID          int        `db:"id" json:"id"`
	UUID        string     `db:"uuid" json:"uuid"`
	Title       string     `db:"title" json:"title"`
	OwnerID     int        `db:"owner_id" json:"ownerId"`
	CompanyID   int        `db:"company_id" json:"companyId"`
	LastMessage string     `db:"last_message" json:"lastMessage"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	Owner       *UserRef   `db:"-" json:"owner,omitempty"`
	Users       []ChatUser `db:"-" json:"users"`
}

// ChatUser is a membership row carrying the member's unread counter.
type ChatUser struct {
	ID      int      `db:"id" json:"id"`
	ChatID  int      `db:"chat_id" json:"chatId"`
	UserID  int      `db:"user_id" json:"userId"`
	Unreads int      `db:"unreads" json:"unreads"`
	User    *UserRef `db:"-" json:"user,omitempty"`
}

// Member returns the membership row for userID.
func (c Chat) Member(userID int) (ChatUser, bool) {
	for _, u := range c.Users {
		if u.UserID == userID {
			return u, true
		}
	}
	return ChatUser{}, false
}

// MemberIDs lists the user ids of all members in membership order.
func (c Chat) MemberIDs() []int {
	ids := make([]int, 0, len(c.Users))
	for _, u := range c.Users {
		ids = append(ids, u.UserID)
	}
	return ids
}

// Page is a paginated listing.
type Page[T any] struct {
	Records []T  `json:"records"`
	Count   int  `json:"count"`
	HasMore bool `json:"hasMore"`
}

// NewPage builds a Page; HasMore is true while rows remain past this page.
func NewPage[T any](records []T, count, offset int) Page[T] {
	if records == nil {
		records = []T{}
	}
	return Page[T]{
		Records: records,
		Count:   count,
		HasMore: count > offset+len(records),
	}
}
