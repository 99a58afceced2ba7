package services

import (
	"errors"
	"fmt"
	"os"
)

// NotFoundError is returned for missing chats or memberships. Code is a
// stable identifier clients can match on.
type NotFoundError struct {
	Code    string
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

var (
	ErrChatNotFound       = &NotFoundError{Code: "ERR_NO_CHAT_FOUND", Message: "chat not found"}
	ErrMembershipNotFound = &NotFoundError{Code: "ERR_NO_CHAT_USER_FOUND", Message: "chat membership not found"}
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ForbiddenError is returned when the caller is not a member of the chat.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

var ErrNotMember = &ForbiddenError{Message: "user is not a member of this chat"}

// AttachmentIOError wraps disk failures while storing attachments.
type AttachmentIOError struct {
	Op  string
	Err error
}

func (e *AttachmentIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AttachmentIOError) Unwrap() error {
	return e.Err
}

// Public describes the failure without filesystem paths.
func (e *AttachmentIOError) Public() string {
	var pathErr *os.PathError
	if errors.As(e.Err, &pathErr) {
		return fmt.Sprintf("%s: %s: %v", e.Op, pathErr.Op, pathErr.Err)
	}
	var linkErr *os.LinkError
	if errors.As(e.Err, &linkErr) {
		return fmt.Sprintf("%s: %s: %v", e.Op, linkErr.Op, linkErr.Err)
	}
	return e.Op + " failed"
}
