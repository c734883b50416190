// Package bot adapts Telegram to the relay core: it normalizes updates,
// routes them to the dispatcher, processor and ledger, and registers the
// admin command surface.
package bot

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"group-relay-bot/imagestore"
	"group-relay-bot/ledger"
	"group-relay-bot/relay"
)

type Bot struct {
	tb  *telebot.Bot
	gw  relay.Gateway
	log *zap.Logger
	loc *time.Location

	images    *imagestore.Store
	roles     *relay.Roles
	prefs     *relay.Prefs
	corr      *relay.Correlation
	approvals *relay.Approvals
	books     *ledger.Ledger

	proc *relay.Processor
	disp *relay.Dispatcher

	// per-chat echo of the bill after each deposit, off by default
	echoMu sync.Mutex
	echo   map[int64]bool
}

// Deps are the wired components the bot drives. Everything stateful lives
// outside so the handlers stay testable.
type Deps struct {
	Token     string
	Images    *imagestore.Store
	Roles     *relay.Roles
	Prefs     *relay.Prefs
	Corr      *relay.Correlation
	Approvals *relay.Approvals
	Replies   *relay.ReplyRelay
	Books     *ledger.Ledger
	Location  *time.Location
	Logger    *zap.Logger
}

func New(d Deps) (*Bot, error) {
	pref := telebot.Settings{
		Token:  d.Token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	}

	tb, err := telebot.NewBot(pref)
	if err != nil {
		return nil, err
	}

	gw := newGateway(tb)
	deleter := relay.NewDeleter(gw)

	b := &Bot{
		tb:        tb,
		gw:        gw,
		log:       d.Logger,
		loc:       d.Location,
		images:    d.Images,
		roles:     d.Roles,
		prefs:     d.Prefs,
		corr:      d.Corr,
		approvals: d.Approvals,
		books:     d.Books,
		proc:      relay.NewProcessor(gw, d.Images, d.Corr, d.Approvals, d.Replies, d.Roles, d.Prefs, deleter),
		disp:      relay.NewDispatcher(gw, d.Images, d.Corr, d.Replies, d.Roles, d.Prefs),
		echo:      make(map[int64]bool),
	}

	b.registerHandlers()
	return b, nil
}

func (b *Bot) Start() {
	b.tb.Start()
}

func (b *Bot) Stop() {
	b.tb.Stop()
}

// CheckResets and Cleanup are exposed for the cron scheduler.
func (b *Bot) CheckResets() { b.books.CheckResets() }
func (b *Bot) Cleanup()     { b.books.Cleanup() }

func (b *Bot) registerHandlers() {
	// Commands
	b.tb.Handle("/start", b.handleStart)
	b.tb.Handle("/id", b.handleID)
	b.tb.Handle("/admin", b.handleAdminCommand)
	b.tb.Handle("/debug", b.handleDebug)
	b.tb.Handle("/adminlist", b.handleAdminList)

	// Routing admin commands, private chat only
	b.tb.Handle("/setgroupbrange", b.handleSetRange)
	b.tb.Handle("/removegroupbrange", b.handleRemoveRange)
	b.tb.Handle("/listgroupbranges", b.handleListRanges)
	b.tb.Handle("/setgroupbpercent", b.handleSetPercent)
	b.tb.Handle("/resetgroupbpercent", b.handleResetPercents)
	b.tb.Handle("/listgroupbpercent", b.handleListPercents)
	b.tb.Handle("/resetqueue", b.handleResetQueue)
	b.tb.Handle("/queuestatus", b.handleQueueStatus)
	b.tb.Handle("/listgroupb", b.handleListGroupB)
	b.tb.Handle("/togglefallback", b.handleToggleFallback)

	// Generic updates
	b.tb.Handle(telebot.OnText, b.onText)
	b.tb.Handle(telebot.OnPhoto, b.onPhoto)
	for _, ev := range []string{
		telebot.OnVideo, telebot.OnDocument, telebot.OnVoice, telebot.OnAudio,
		telebot.OnSticker, telebot.OnLocation, telebot.OnContact,
	} {
		b.tb.Handle(ev, b.onMedia)
	}
	b.tb.Handle(telebot.OnCallback, b.onCallback)
}

// inbound normalizes a telebot update for the relay core.
func inbound(c telebot.Context) relay.Inbound {
	msg := c.Message()
	in := relay.Inbound{
		ChatID:    c.Chat().ID,
		MessageID: msg.ID,
		Text:      msg.Text,
		Private:   c.Chat().Type == telebot.ChatPrivate,
	}
	if s := c.Sender(); s != nil {
		in.UserID = s.ID
		in.Username = s.Username
		in.DisplayName = strings.TrimSpace(s.FirstName + " " + s.LastName)
	}
	if r := msg.ReplyTo; r != nil {
		in.ReplyTo = r.ID
		in.ReplyToText = r.Text
	}
	return in
}

func replyFromBot(c telebot.Context) bool {
	r := c.Message().ReplyTo
	return r != nil && r.Sender != nil && r.Sender.IsBot
}

// onText is the single entry point for plain text. Keyword commands win
// over the relay flows, then the message falls through to the chat's role.
func (b *Bot) onText(c telebot.Context) error {
	in := inbound(c)
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	if in.Private {
		if handled, err := b.proc.HandleApproval(in); handled {
			return err
		}
		switch text {
		case "开启转发", "关闭转发", "转发状态":
			return b.toggleForwarding(c, in, text)
		}
		return nil
	}

	switch text {
	case "设置群聊A":
		return b.assignRole(c, in, relay.RoleGroupA)
	case "设置群聊B":
		return b.assignRole(c, in, relay.RoleGroupB)
	case "设置车队":
		return b.assignRole(c, in, relay.RoleGroupC)
	case "解散群聊":
		return b.dissolveGroup(c, in)
	case "设置操作人":
		return b.promoteOperator(c, in)
	case "开启转发", "关闭转发", "转发状态":
		return b.toggleForwarding(c, in, text)
	case "重置群码":
		return b.resetAllImages(c, in)
	case "设置点击模式":
		return b.toggleClickMode(c, in)
	case "授权群":
		return b.authorizeAccounting(c, in)
	case "授权总群":
		return b.authorizeSummary(c, in)
	case "财务查账":
		return b.financialAudit(c, in)
	case "账单":
		return b.showBill(c, in)
	case "导出昨日账单":
		return b.exportYesterdayBill(c, in)
	case "开启记账提示", "关闭记账提示":
		return b.toggleBillEcho(c, in, text == "开启记账提示")
	}

	switch {
	case strings.Contains(text, "财务计算昨日业绩"):
		return b.financeSummary(c, -1)
	case strings.Contains(text, "财务计算业绩"):
		return b.financeSummary(c, 0)
	case strings.Contains(text, "显示业绩"):
		return b.personalPerformance(c)
	}

	if m := resetImageRe.FindStringSubmatch(text); m != nil {
		return b.resetImageByNumber(c, in, m[1])
	}
	if handled, err := b.handleAccountingText(c, in, text); handled {
		return err
	}
	if handled, err := b.proc.HandleApproval(in); handled {
		return err
	}

	switch {
	case b.roles.IsGroupA(in.ChatID):
		if in.ReplyTo != 0 {
			if replyFromBot(c) {
				return b.disp.ForwardReply(in, text)
			}
			if text == "群" && b.roles.IsGlobalAdmin(in.UserID) {
				return b.disp.HandleProxyRequest(in)
			}
			return nil
		}
		return b.disp.HandleRequest(in)
	case b.roles.IsGroupB(in.ChatID):
		return b.proc.HandleGroupB(in)
	}
	return nil
}

func (b *Bot) onPhoto(c telebot.Context) error {
	in := inbound(c)
	caption := strings.TrimSpace(c.Message().Caption)

	if b.roles.IsGroupB(in.ChatID) {
		if m := setImageRe.FindStringSubmatch(caption); m != nil {
			return b.setGroupImage(c, in, m[1])
		}
		return nil
	}
	return b.forwardMediaReply(c, in, "[图片]", caption)
}

func (b *Bot) onMedia(c telebot.Context) error {
	in := inbound(c)
	msg := c.Message()

	var label string
	switch {
	case msg.Video != nil:
		label = "[视频]"
	case msg.Document != nil:
		label = "[文件]"
	case msg.Voice != nil:
		label = "[语音消息]"
	case msg.Audio != nil:
		label = "[音频]"
	case msg.Sticker != nil:
		label = "[贴纸]"
		if msg.Sticker.Emoji != "" {
			label += " " + msg.Sticker.Emoji
		}
	case msg.Location != nil:
		label = "[位置信息]"
	case msg.Contact != nil:
		label = "[联系人信息]"
	default:
		label = "[其他消息类型]"
	}
	return b.forwardMediaReply(c, in, label, msg.Caption)
}

// forwardMediaReply relays a non-text Group A reply as a placeholder label.
func (b *Bot) forwardMediaReply(c telebot.Context, in relay.Inbound, label, caption string) error {
	if !b.roles.IsGroupA(in.ChatID) || in.ReplyTo == 0 || !replyFromBot(c) {
		return nil
	}
	content := label
	if caption = strings.TrimSpace(caption); caption != "" {
		content += " " + caption
	}
	return b.disp.ForwardReply(in, content)
}

func (b *Bot) handleStart(c telebot.Context) error {
	msg := "欢迎使用TLG群组管理机器人！"
	if c.Chat().Type == telebot.ChatPrivate && b.roles.IsGlobalAdmin(c.Sender().ID) {
		msg += "\n\n管理员控制:\n" +
			"• 开启转发 - 开启群B到群A的消息转发\n" +
			"• 关闭转发 - 关闭群B到群A的消息转发\n" +
			"• 转发状态 - 切换转发状态\n" +
			"• /debug - 显示当前状态信息"
	}
	return c.Send(msg)
}
