package bot

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gopkg.in/telebot.v3"

	"group-relay-bot/relay"
)

// Telegram sends are retried on transient failures; "not found" style
// responses are mapped to relay.ErrNotFound and never retried.
const (
	sendAttempts   = 3
	sendRetryDelay = 2 * time.Second
)

type gateway struct {
	b *telebot.Bot
}

func newGateway(b *telebot.Bot) relay.Gateway {
	return &gateway{b: b}
}

func (g *gateway) SendText(chatID int64, text string, opts *relay.SendOptions) (int, error) {
	var msg *telebot.Message
	err := g.withRetry(func() error {
		var err error
		msg, err = g.b.Send(telebot.ChatID(chatID), text, sendOptions(chatID, opts)...)
		return mapErr(err)
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (g *gateway) SendPhoto(chatID int64, fileID, caption string, opts *relay.SendOptions) (int, error) {
	photo := &telebot.Photo{File: telebot.File{FileID: fileID}, Caption: caption}
	var msg *telebot.Message
	err := g.withRetry(func() error {
		var err error
		msg, err = g.b.Send(telebot.ChatID(chatID), photo, sendOptions(chatID, opts)...)
		return mapErr(err)
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (g *gateway) EditText(chatID int64, messageID int, text string, opts *relay.SendOptions) error {
	_, err := g.b.Edit(stored(chatID, messageID), text, sendOptions(chatID, opts)...)
	return mapErr(err)
}

func (g *gateway) EditKeyboard(chatID int64, messageID int, keyboard [][]relay.Button) error {
	var markup *telebot.ReplyMarkup
	if len(keyboard) > 0 {
		markup = inlineMarkup(keyboard)
	}
	_, err := g.b.EditReplyMarkup(stored(chatID, messageID), markup)
	return mapErr(err)
}

func (g *gateway) DeleteMessage(chatID int64, messageID int) error {
	return mapErr(g.b.Delete(stored(chatID, messageID)))
}

func (g *gateway) ChatTitle(chatID int64) (string, error) {
	chat, err := g.b.ChatByID(chatID)
	if err != nil {
		return "", err
	}
	return chat.Title, nil
}

func (g *gateway) MemberName(chatID, userID int64) (string, error) {
	member, err := g.b.ChatMemberOf(telebot.ChatID(chatID), &telebot.User{ID: userID})
	if err != nil {
		return "", err
	}
	if member.User.Username != "" {
		return member.User.Username, nil
	}
	return member.User.FirstName, nil
}

func (g *gateway) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(sendRetryDelay * time.Duration(attempt))
		}
		if err = fn(); err == nil || errors.Is(err, relay.ErrNotFound) {
			return err
		}
	}
	return err
}

func stored(chatID int64, messageID int) telebot.Editable {
	return &telebot.StoredMessage{ChatID: chatID, MessageID: strconv.Itoa(messageID)}
}

func sendOptions(chatID int64, opts *relay.SendOptions) []interface{} {
	if opts == nil {
		return nil
	}
	so := &telebot.SendOptions{DisableWebPagePreview: opts.DisablePreview}
	if opts.Markdown {
		so.ParseMode = telebot.ModeMarkdown
	}
	if opts.ReplyTo != 0 {
		so.ReplyTo = &telebot.Message{ID: opts.ReplyTo, Chat: &telebot.Chat{ID: chatID}}
	}
	if len(opts.Keyboard) > 0 {
		so.ReplyMarkup = inlineMarkup(opts.Keyboard)
	}
	return []interface{}{so}
}

func inlineMarkup(rows [][]relay.Button) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	tbRows := make([]telebot.Row, 0, len(rows))
	for _, row := range rows {
		var tbRow telebot.Row
		for _, btn := range row {
			tbRow = append(tbRow, markup.Data(btn.Text, btn.Unique, btn.Data))
		}
		tbRows = append(tbRows, tbRow)
	}
	markup.Inline(tbRows...)
	return markup
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var tbErr *telebot.Error
	if errors.As(err, &tbErr) {
		desc := strings.ToLower(tbErr.Description)
		if strings.Contains(desc, "not found") || strings.Contains(desc, "to delete") ||
			strings.Contains(desc, "to edit") {
			return relay.ErrNotFound
		}
	}
	return err
}
