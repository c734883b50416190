package relay

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"group-relay-bot/model"
)

// ImageQueue is the slice of the image store the dispatcher needs: queue
// traversal plus ownership and status writes.
type ImageQueue interface {
	Images
	NextInQueue(weights map[int64]int) (model.Image, bool, error)
	CountByStatus() (open, closed int64, err error)
	SetOwner(id string, chatID int64) error
	RandomOpen() (model.Image, bool, error)
}

// Dispatcher turns Group A demand messages into Group B prompts: it picks
// the next image from the queue, routes it to an amount-compatible Group B
// chat and records the correlation entry the Processor later resolves.
type Dispatcher struct {
	gw      Gateway
	queue   ImageQueue
	corr    *Correlation
	replies *ReplyRelay
	roles   *Roles
	prefs   *Prefs
}

func NewDispatcher(gw Gateway, queue ImageQueue, corr *Correlation, replies *ReplyRelay, roles *Roles, prefs *Prefs) *Dispatcher {
	return &Dispatcher{
		gw:      gw,
		queue:   queue,
		corr:    corr,
		replies: replies,
		roles:   roles,
		prefs:   prefs,
	}
}

// HandleRequest processes one Group A text message. Non-trigger texts and
// out-of-bounds amounts are ignored without a reply; the room stays quiet
// unless a prompt actually goes out.
func (d *Dispatcher) HandleRequest(in Inbound) error {
	amount, ok := ParseTrigger(strings.TrimSpace(in.Text))
	if !ok {
		return nil
	}
	amt, err := strconv.ParseFloat(amount, 64)
	if err != nil || amt < GlobalMinAmount || amt > GlobalMaxAmount {
		return nil
	}

	groupB := d.roles.GroupBChats()
	if len(groupB) == 0 {
		_, err := d.gw.SendText(in.ChatID, "Error: No Group B configured. Please ask admin to set up Group B.", nil)
		return err
	}

	open, closed, err := d.queue.CountByStatus()
	if err != nil {
		return err
	}
	if open == 0 {
		// No inventory, or everything is held by in-flight requests.
		// Either way the room stays silent.
		zap.L().Info("request with no open images",
			zap.Int64("chat_id", in.ChatID), zap.Int64("closed", closed))
		return nil
	}

	img, found, err := d.queue.NextInQueue(d.prefs.Weights())
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	target, setOwner, ok := SelectTarget(img.ID, img.OwnerGroupB, amt, groupB, d.prefs.Ranges())
	if !ok {
		zap.L().Info("no group B accepts amount",
			zap.String("amount", amount), zap.String("image_id", img.ID))
		return nil
	}
	if setOwner {
		if err := d.queue.SetOwner(img.ID, target); err != nil {
			zap.L().Error("set image owner failed", zap.String("image_id", img.ID), zap.Error(err))
		}
	}

	photoMsgID, err := d.gw.SendPhoto(in.ChatID, img.FileID,
		photoCaption(img.Number, setterMention(img)), &SendOptions{ReplyTo: in.MessageID})
	if err != nil {
		return err
	}

	click := d.prefs.ClickMode(target)
	var promptMsgID int
	if click {
		name := d.chatName(in.ChatID)
		link := MessageLink(in.ChatID, in.MessageID)
		kb := [][]Button{{{Text: "解除", Unique: "release", Data: img.ID}}}
		promptMsgID, err = d.gw.SendText(target, clickPromptText(amount, img.Number, name, link),
			&SendOptions{Markdown: true, DisablePreview: true, Keyboard: kb})
	} else {
		promptMsgID, err = d.gw.SendText(target, promptText(amount, img.Number), nil)
	}
	if err != nil {
		_, sendErr := d.gw.SendText(in.ChatID, "发送至Group B失败: "+err.Error(), nil)
		if sendErr != nil {
			zap.L().Error("report dispatch failure failed", zap.Error(sendErr))
		}
		return err
	}

	req := ForwardedRequest{
		ImageID:           img.ID,
		GroupAChatID:      in.ChatID,
		GroupAMsgID:       photoMsgID,
		GroupBChatID:      target,
		GroupBMsgID:       promptMsgID,
		Amount:            amount,
		Number:            strconv.Itoa(img.Number),
		RequestingUserID:  in.UserID,
		OriginalMessageID: in.MessageID,
		ClickMode:         click,
	}
	if err := d.corr.Create(req); err != nil {
		if errors.Is(err, ErrDuplicateAssignment) {
			zap.L().Warn("image already assigned", zap.String("image_id", img.ID))
			return nil
		}
		return err
	}

	if err := d.queue.SetStatus(img.ID, model.StatusClosed); err != nil {
		zap.L().Error("close image failed", zap.String("image_id", img.ID), zap.Error(err))
	}

	zap.L().Info("request dispatched",
		zap.String("image_id", img.ID),
		zap.String("amount", amount),
		zap.Int64("group_a", in.ChatID),
		zap.Int64("group_b", target),
		zap.Bool("click_mode", click))
	return nil
}

// HandleProxyRequest lets a global admin inject a request on behalf of a
// member by replying exactly 群 to their message. The amount comes from the
// replied text, defaulting to zero when it carries no number.
func (d *Dispatcher) HandleProxyRequest(in Inbound) error {
	if in.ReplyTo == 0 || strings.TrimSpace(in.Text) != "群" {
		return nil
	}
	if !d.roles.IsGlobalAdmin(in.UserID) {
		return nil
	}

	groupB := d.roles.GroupBChats()
	if len(groupB) == 0 {
		_, err := d.gw.SendText(in.ChatID, "没有设置群B，无法转发。", nil)
		return err
	}

	open, closed, err := d.queue.CountByStatus()
	if err != nil {
		return err
	}
	if open == 0 {
		if closed == 0 {
			_, err := d.gw.SendText(in.ChatID, "没有可用的图片。", &SendOptions{ReplyTo: in.MessageID})
			return err
		}
		return nil
	}

	img, found, err := d.queue.RandomOpen()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	amount := "0"
	if num, ok := firstNumber(in.ReplyToText); ok {
		amount = num
	}

	photoMsgID, err := d.gw.SendPhoto(in.ChatID, img.FileID,
		photoCaption(img.Number, setterMention(img)), &SendOptions{ReplyTo: in.ReplyTo})
	if err != nil {
		return err
	}

	target := groupB[0]
	promptMsgID, err := d.gw.SendText(target, promptText(amount, img.Number), nil)
	if err != nil {
		_, sendErr := d.gw.SendText(in.ChatID, "转发至群B失败: "+err.Error(), nil)
		if sendErr != nil {
			zap.L().Error("report proxy failure failed", zap.Error(sendErr))
		}
		return err
	}

	req := ForwardedRequest{
		ImageID:           img.ID,
		GroupAChatID:      in.ChatID,
		GroupAMsgID:       photoMsgID,
		GroupBChatID:      target,
		GroupBMsgID:       promptMsgID,
		Amount:            amount,
		Number:            strconv.Itoa(img.Number),
		OriginalMessageID: in.ReplyTo,
	}
	if err := d.corr.Create(req); err != nil {
		if errors.Is(err, ErrDuplicateAssignment) {
			return nil
		}
		return err
	}
	if err := d.queue.SetStatus(img.ID, model.StatusClosed); err != nil {
		zap.L().Error("close image failed", zap.String("image_id", img.ID), zap.Error(err))
	}
	return nil
}

// ForwardReply relays a Group A member's reply to one of the bot's prompts
// into the Group B chat that owns the request. content is the already
// normalized display text of the reply (media replies arrive as
// placeholders like [图片]).
func (d *Dispatcher) ForwardReply(in Inbound, content string) error {
	if in.ReplyTo == 0 {
		return nil
	}
	req, ok := d.corr.ByGroupAMessage(in.ChatID, in.ReplyTo)
	if !ok {
		zap.L().Debug("reply with no tracked prompt",
			zap.Int64("chat_id", in.ChatID), zap.Int("reply_to", in.ReplyTo))
		return nil
	}

	setter := ""
	if img, found, err := d.queue.Get(req.ImageID); err == nil && found {
		setter = setterMention(img)
	}

	text := forwardedReplyText(d.chatName(in.ChatID), MessageLink(in.ChatID, in.MessageID),
		displayName(in), content, req.Number, setter)
	kb := [][]Button{{{Text: "销毁", Unique: "destroy_reply", Data: req.ImageID}}}
	msgID, err := d.gw.SendText(req.GroupBChatID, text,
		&SendOptions{Markdown: true, DisablePreview: true, Keyboard: kb})
	if err != nil {
		return err
	}

	d.replies.Track(ReplyForward{
		ForwardMsgID:       msgID,
		GroupAChatID:       in.ChatID,
		GroupAUserID:       in.UserID,
		GroupAMsgID:        in.MessageID,
		OriginalReplyMsgID: in.ReplyTo,
		GroupBChatID:       req.GroupBChatID,
		CreatedAt:          time.Now(),
	})
	return nil
}

func (d *Dispatcher) chatName(chatID int64) string {
	if name, ok := d.roles.Name(chatID); ok {
		return name
	}
	if title, err := d.gw.ChatTitle(chatID); err == nil && title != "" {
		d.roles.SetName(chatID, title)
		return title
	}
	return strconv.FormatInt(chatID, 10)
}

func setterMention(img model.Image) string {
	if img.SetByUsername != "" {
		return "@" + img.SetByUsername
	}
	return img.SetByDisplayName
}
