package relay

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"group-relay-bot/model"
)

// Images is the slice of the image store the processor needs.
type Images interface {
	Get(id string) (model.Image, bool, error)
	SetStatus(id, status string) error
}

var (
	plusNumberRe = regexp.MustCompile(`\+(\d+(?:\.\d+)?)`)
	numberRe     = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// passthroughKeywords mark Group B texts owned by the admin command
// handlers; the processor must not consume them.
var passthroughKeywords = []string{"重置群", "设置群", "设置操作人", "解散群聊"}

// Processor interprets inbound Group B messages against the correlation
// table and drives the resulting side effects: image status resets, prompt
// edits or deletions, the relay back to Group A, and custom-amount
// escalation.
//
// Matching is an ordered list, first hit wins:
//
//  1. reply to a tracked forwarded Group A copy (two-way side channel)
//  2. reply to a tracked prompt: zero, exact amount, display number, or a
//     custom amount from an admin
//  3. admin command keywords pass through untouched
//  4. general fallback for non-reply numerics: amount equality, then
//     display-number equality, then (when enabled) the lone-number
//     most-recent heuristic
//
// Anything that matches nothing is silently ignored.
type Processor struct {
	gw        Gateway
	images    Images
	corr      *Correlation
	approvals *Approvals
	replies   *ReplyRelay
	roles     *Roles
	prefs     *Prefs
	deleter   *Deleter
}

func NewProcessor(gw Gateway, images Images, corr *Correlation, approvals *Approvals, replies *ReplyRelay, roles *Roles, prefs *Prefs, deleter *Deleter) *Processor {
	return &Processor{
		gw:        gw,
		images:    images,
		corr:      corr,
		approvals: approvals,
		replies:   replies,
		roles:     roles,
		prefs:     prefs,
		deleter:   deleter,
	}
}

// HandleGroupB processes one text message from a Group B chat.
func (p *Processor) HandleGroupB(in Inbound) error {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return nil
	}

	if in.ReplyTo != 0 {
		if f, ok := p.replies.ByForwardMsg(in.ReplyTo); ok {
			return p.handleForwardedReply(in, f)
		}
		if req, ok := p.corr.ByGroupBMessage(in.ReplyTo); ok {
			return p.handleTrackedReply(in, req)
		}
		// Replies to unrelated messages fall through to the general
		// matchers: clients drop reply links on quoted forwards.
	}

	for _, kw := range passthroughKeywords {
		if strings.Contains(in.Text, kw) {
			return nil
		}
	}

	return p.handleGeneral(in)
}

// handleTrackedReply is the direct-reply path over a live prompt.
func (p *Processor) handleTrackedReply(in Inbound, req ForwardedRequest) error {
	if in.Text == "+0" || in.Text == "0" {
		return p.resolve(req, rejectionPhrase, true)
	}
	num, ok := firstNumber(in.Text)
	if !ok {
		// A reply with no number is chatter, not a resolution.
		return nil
	}
	switch num {
	case req.Amount:
		return p.resolve(req, confirmationText(num), false)
	case req.Number:
		// Echoing the group number is not a confirmation.
		return nil
	}
	if p.roles.IsGroupAdmin(in.UserID, in.ChatID) || p.roles.IsGlobalAdmin(in.UserID) {
		return p.escalate(in, req, num)
	}
	// Non-admins cannot force custom amounts.
	return nil
}

// handleGeneral is the fallback matcher chain for messages with no usable
// reply link. Amount equality beats display-number equality; the lone-number
// most-recent heuristic runs last and only when enabled, it is a known
// source of mismatches under concurrent requests.
func (p *Processor) handleGeneral(in Inbound) error {
	nums := numberRe.FindAllString(in.Text, -1)
	if len(nums) == 0 {
		return nil
	}

	for _, num := range nums {
		if req, ok := p.corr.ByAmountOrNumber(num, num); ok {
			text, rejected := responseFor(in.Text, num)
			return p.resolve(req, text, rejected)
		}
	}

	if len(nums) == 1 && p.prefs.RecentFallbackEnabled() {
		if req, ok := p.corr.MostRecent(); ok {
			zap.L().Info("lone-number fallback applied",
				zap.String("image_id", req.ImageID), zap.String("number", nums[0]))
			text, rejected := responseFor(in.Text, nums[0])
			return p.resolve(req, text, rejected)
		}
	}
	return nil
}

// resolve claims the entry and runs the terminal side effects. The claim
// happens before anything externally visible, so two racing resolvers
// produce exactly one relay.
func (p *Processor) resolve(req ForwardedRequest, responseText string, rejected bool) error {
	req, ok := p.corr.Resolve(req.ImageID)
	if !ok {
		return nil
	}

	if err := p.images.SetStatus(req.ImageID, model.StatusOpen); err != nil {
		zap.L().Error("reopen image failed", zap.String("image_id", req.ImageID), zap.Error(err))
	}

	if req.ClickMode {
		p.deleter.DeleteAfter(req.GroupBChatID, req.GroupBMsgID, time.Minute)
	} else {
		text := closedPromptText(req.Number)
		if rejected {
			text = cancelledPromptText(req.Number)
		}
		err := p.gw.EditText(req.GroupBChatID, req.GroupBMsgID, text, nil)
		if err != nil && !errors.Is(err, ErrNotFound) {
			zap.L().Warn("edit prompt failed",
				zap.Int64("chat_id", req.GroupBChatID), zap.Int("message_id", req.GroupBMsgID), zap.Error(err))
		}
	}

	if !p.prefs.ForwardingEnabled() {
		return nil
	}
	_, err := p.gw.SendText(req.GroupAChatID, responseText, &SendOptions{ReplyTo: req.ReplyTarget()})
	if err != nil {
		// Local state is already final; the relay is at-most-once.
		zap.L().Error("relay to group A failed",
			zap.Int64("chat_id", req.GroupAChatID), zap.String("image_id", req.ImageID), zap.Error(err))
	}
	return nil
}

// escalate records a pending custom amount and notifies the room and every
// global admin.
func (p *Processor) escalate(in Inbound, req ForwardedRequest, amount string) error {
	p.approvals.Create(PendingApproval{
		SubmissionMsgID: in.MessageID,
		ImageID:         req.ImageID,
		Amount:          amount,
		SubmitterID:     in.UserID,
		SubmitterName:   displayName(in),
		MessageText:     in.Text,
		ReplyToMsgID:    in.ReplyTo,
		SubmittedAt:     time.Now(),
	})

	admins := p.roles.GlobalAdmins()
	var mentions strings.Builder
	for _, id := range admins {
		name, err := p.gw.MemberName(in.ChatID, id)
		if err != nil || name == "" {
			continue
		}
		mentions.WriteString("@" + name + " ")
	}

	notice := approvalNoticeText(displayName(in), amount, strings.TrimSpace(mentions.String()))
	if _, err := p.gw.SendText(in.ChatID, notice, &SendOptions{ReplyTo: in.MessageID}); err != nil {
		zap.L().Error("approval notice failed", zap.Int64("chat_id", in.ChatID), zap.Error(err))
	}

	instructions := approvalInstructionText(displayName(in), in.UserID, req.Amount, amount, req.Number)
	for _, id := range admins {
		if _, err := p.gw.SendText(id, instructions, nil); err != nil {
			zap.L().Warn("approval notify admin failed", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
	return nil
}

// HandleApproval processes a possible admin approval message. handled is
// false when the message is not an approval at all and should continue to
// the other handlers.
func (p *Processor) HandleApproval(in Inbound) (handled bool, err error) {
	if !p.roles.IsGlobalAdmin(in.UserID) || !IsApprovalKeyword(in.Text) {
		return false, nil
	}

	var appr PendingApproval
	var ok bool
	if in.Private {
		// Private approvals reply to the notification copy; the reply
		// link is useless there, take the newest pending entry.
		appr, ok = p.approvals.MostRecent()
		if !ok {
			_, err := p.gw.SendText(in.ChatID, "没有待审批的自定义金额。", &SendOptions{ReplyTo: in.MessageID})
			return true, err
		}
	} else {
		if in.ReplyTo == 0 {
			return false, nil
		}
		appr, ok = p.approvals.ByReply(in.ReplyTo)
		if !ok {
			appr, ok = p.approvals.ByContent(in.ReplyToText)
		}
		if !ok {
			_, err := p.gw.SendText(in.ChatID, "⚠️ 没有找到此消息的待审批记录。请检查是否回复了正确的消息。", &SendOptions{ReplyTo: in.MessageID})
			return true, err
		}
	}

	req, ok := p.corr.Get(appr.ImageID)
	if !ok {
		_, err := p.gw.SendText(in.ChatID, "无法找到相关图片信息，批准失败。", &SendOptions{ReplyTo: in.MessageID})
		return true, err
	}

	if err := p.resolve(req, confirmationText(appr.Amount), false); err != nil {
		return true, err
	}

	if in.Private {
		opts := &SendOptions{}
		if appr.ReplyToMsgID != 0 {
			opts.ReplyTo = appr.ReplyToMsgID
		}
		if _, err := p.gw.SendText(req.GroupBChatID, approvedRemoteText(appr.Amount, displayName(in)), opts); err != nil {
			zap.L().Warn("approval confirmation failed", zap.Int64("chat_id", req.GroupBChatID), zap.Error(err))
		}
	} else {
		if _, err := p.gw.SendText(in.ChatID, approvedInChatText(appr.Amount), &SendOptions{ReplyTo: in.MessageID}); err != nil {
			zap.L().Warn("approval confirmation failed", zap.Int64("chat_id", in.ChatID), zap.Error(err))
		}
	}

	p.approvals.Remove(appr.SubmissionMsgID)
	return true, nil
}

// handleForwardedReply relays a Group B answer on the admin side channel
// back to the Group A sender after checking the replier against the image
// setter's identity. Username wins over user ID when both sides have one.
func (p *Processor) handleForwardedReply(in Inbound, f ReplyForward) error {
	req, ok := p.corr.ByGroupAMessage(f.GroupAChatID, f.OriginalReplyMsgID)
	if !ok {
		// Without the originating request the setter cannot be
		// verified; stay silent.
		return nil
	}
	img, found, err := p.images.Get(req.ImageID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	authorized := false
	switch {
	case img.SetByUsername != "" && in.Username != "":
		authorized = in.Username == img.SetByUsername
	case img.SetByUserID != 0:
		authorized = in.UserID == img.SetByUserID
	}
	if !authorized {
		zap.L().Info("unauthorized side-channel reply dropped",
			zap.Int64("user_id", in.UserID), zap.String("image_id", req.ImageID))
		return nil
	}

	if _, err := p.gw.SendText(f.GroupAChatID, in.Text, &SendOptions{ReplyTo: f.GroupAMsgID}); err != nil {
		zap.L().Error("side-channel relay failed", zap.Int64("chat_id", f.GroupAChatID), zap.Error(err))
		return nil
	}

	original := in.ReplyToText
	if original == "" {
		original = "转发消息"
	}
	h := p.deleter.Countdown(in.ChatID, f.ForwardMsgID, original, time.Minute)
	// The request is still live here; resolving it through any other
	// path stops the countdown on the stale forward.
	p.corr.AttachCancel(req.ImageID, h)
	p.replies.Remove(f.ForwardMsgID)
	return nil
}

// Release confirms a click-mode prompt via its inline button. The claim
// makes a second press a no-op; handled reports whether this press won.
func (p *Processor) Release(imageID string) (handled bool) {
	req, ok := p.corr.Resolve(imageID)
	if !ok {
		return false
	}

	kb := [][]Button{{{Text: "已解除状态", Unique: "released", Data: imageID}}}
	err := p.gw.EditText(req.GroupBChatID, req.GroupBMsgID,
		releasedText(req.Amount, req.Number), &SendOptions{Keyboard: kb})
	if err != nil && !errors.Is(err, ErrNotFound) {
		zap.L().Warn("edit released prompt failed",
			zap.Int64("chat_id", req.GroupBChatID), zap.Int("message_id", req.GroupBMsgID), zap.Error(err))
	}

	if err := p.images.SetStatus(req.ImageID, model.StatusOpen); err != nil {
		zap.L().Error("reopen image failed", zap.String("image_id", req.ImageID), zap.Error(err))
	}

	if p.prefs.ForwardingEnabled() {
		_, err := p.gw.SendText(req.GroupAChatID, confirmationText(req.Amount),
			&SendOptions{ReplyTo: req.ReplyTarget()})
		if err != nil {
			zap.L().Error("relay to group A failed",
				zap.Int64("chat_id", req.GroupAChatID), zap.String("image_id", req.ImageID), zap.Error(err))
		}
	}

	p.deleter.DeleteAfter(req.GroupBChatID, req.GroupBMsgID, time.Minute)
	return true
}

// firstNumber extracts the number a Group B response is about. A "+"
// prefixed number wins over a bare one.
func firstNumber(text string) (string, bool) {
	if m := plusNumberRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := numberRe.FindString(text); m != "" {
		return m, true
	}
	return "", false
}

// responseFor builds the text relayed to Group A for a general-path match.
func responseFor(text, num string) (relayed string, rejected bool) {
	if num == "0" || text == "+0" || text == "0" {
		return rejectionPhrase, true
	}
	if strings.Contains(text, "+") {
		return text, false
	}
	return confirmationText(num), false
}

func displayName(in Inbound) string {
	if in.Username != "" {
		return in.Username
	}
	return in.DisplayName
}
