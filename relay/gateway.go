// Package relay implements the routing core: deterministic image-to-chat
// assignment, cross-room request/response correlation, the Group B response
// state machine, custom-amount approvals and scheduled message deletion.
package relay

import "errors"

// ErrNotFound is returned by gateway edits/deletes when the target message
// no longer exists. Callers always swallow it: racing with manual moderation
// or an earlier auto-deletion is expected.
var ErrNotFound = errors.New("message not found")

// Button is one inline keyboard button. Unique routes the callback; Data is
// the payload.
type Button struct {
	Text   string
	Unique string
	Data   string
}

// SendOptions carries the optional knobs for an outbound message.
type SendOptions struct {
	ReplyTo        int // message to reply to, 0 for none
	Markdown       bool
	DisablePreview bool
	Keyboard       [][]Button
}

// Gateway is the messaging surface the core needs. The bot package adapts
// telebot to it; tests use an in-memory fake.
type Gateway interface {
	SendText(chatID int64, text string, opts *SendOptions) (int, error)
	SendPhoto(chatID int64, fileID, caption string, opts *SendOptions) (int, error)
	EditText(chatID int64, messageID int, text string, opts *SendOptions) error
	EditKeyboard(chatID int64, messageID int, keyboard [][]Button) error
	DeleteMessage(chatID int64, messageID int) error
	// ChatTitle resolves a chat's display title for click-mode prompts.
	ChatTitle(chatID int64) (string, error)
	// MemberName resolves a user's username (or first name) for mentions.
	MemberName(chatID, userID int64) (string, error)
}

// StateStore persists a named piece of state as JSON. Implemented by the
// store package.
type StateStore interface {
	Load(key string, out any) (bool, error)
	Save(key string, v any) error
}

// Inbound is a normalized incoming chat message.
type Inbound struct {
	ChatID      int64
	MessageID   int
	UserID      int64
	Username    string
	DisplayName string
	Text        string
	ReplyTo     int // replied-to message ID, 0 when not a reply
	ReplyToText string
	Private     bool
}
