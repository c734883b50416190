package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"group-relay-bot/relay"
)

var (
	depositRe    = regexp.MustCompile(`^\+(\d+(?:\.\d+)?)(?:\s+(.+))?$`)
	withdrawRe   = regexp.MustCompile(`^-(\d+(?:\.\d+)?)(?:\s+(.+))?$`)
	distributeRe = regexp.MustCompile(`^下发\s*(\d+(?:\.\d+)?)(?:\s+(.+))?$`)
	rateRe       = regexp.MustCompile(`^设置汇率\s*(\d+(?:\.\d+)?)$`)
	resetTimeRe  = regexp.MustCompile(`^(?:设置账单时间|设置刷新时间)\s*(\d{1,2}):(\d{2})$`)
)

// handleAccountingText consumes the bookkeeping command forms. It only
// claims a message when the chat participates in accounting, so Group B
// "+amount" responses fall through to the relay processor untouched.
func (b *Bot) handleAccountingText(c telebot.Context, in relay.Inbound, text string) (bool, error) {
	if m := depositRe.FindStringSubmatch(text); m != nil {
		return b.recordEntry(c, in, m[1], m[2], false)
	}
	if m := withdrawRe.FindStringSubmatch(text); m != nil {
		return b.recordEntry(c, in, m[1], m[2], true)
	}
	if m := distributeRe.FindStringSubmatch(text); m != nil {
		return b.recordDistribution(c, in, m[1], m[2])
	}
	if m := rateRe.FindStringSubmatch(text); m != nil {
		return b.setExchangeRate(c, in, m[1])
	}
	if m := resetTimeRe.FindStringSubmatch(text); m != nil {
		return b.setBillResetTime(c, in, m[1], m[2])
	}
	return false, nil
}

// amountMatchesPending reports whether a bare deposit amount typed in a
// supply chat lines up with an in-flight forwarded request aimed at that
// chat. A target annotation marks the message as a deliberate ledger entry.
func amountMatchesPending(corr *relay.Correlation, roles *relay.Roles, chatID int64, amount, target string) bool {
	if target != "" || !roles.IsGroupB(chatID) {
		return false
	}
	req, ok := corr.ByAmountOrNumber(amount, amount)
	return ok && req.GroupBChatID == chatID
}

// recordEntry books a deposit, or a correction when negate is set.
// Allowed in authorized groups and fleet (Group C) chats.
func (b *Bot) recordEntry(c telebot.Context, in relay.Inbound, amountStr, target string, negate bool) (bool, error) {
	if !b.books.IsAuthorized(in.ChatID) && !b.roles.IsGroupC(in.ChatID) {
		return false, nil
	}
	if !negate && amountMatchesPending(b.corr, b.roles, in.ChatID, amountStr, target) {
		// A bare "+amount" in a supply chat with a matching in-flight
		// request is a confirmation, not a ledger entry.
		return false, nil
	}
	if !b.operatorOrAdmin(in) {
		return true, c.Send("⚠️ 只有操作人可以使用记账功能。")
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return true, c.Send("❌ 金额格式错误。请输入有效数字。")
	}
	if negate {
		amount = -amount
	}

	b.rememberName(c, in.ChatID)
	b.books.AddDeposit(in.ChatID, amount, b.entryTarget(c, target), operatorName(c))
	b.log.Info("ledger entry recorded",
		zap.Int64("chat_id", in.ChatID), zap.Float64("amount", amount))

	if b.billEchoEnabled(in.ChatID) {
		return true, b.sendBillWithExport(c, in.ChatID)
	}
	return true, nil
}

func (b *Bot) recordDistribution(c telebot.Context, in relay.Inbound, amountStr, target string) (bool, error) {
	if !b.books.IsAuthorized(in.ChatID) {
		return false, nil
	}
	if !b.operatorOrAdmin(in) {
		return true, c.Send("⚠️ 只有操作人可以使用记账功能。")
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return true, c.Send("❌ 金额格式错误。请输入有效数字。")
	}

	b.rememberName(c, in.ChatID)
	b.books.AddDistribution(in.ChatID, amount, b.entryTarget(c, target), operatorName(c))
	return true, b.sendBillWithExport(c, in.ChatID)
}

func (b *Bot) setExchangeRate(c telebot.Context, in relay.Inbound, rateStr string) (bool, error) {
	if !b.books.IsAuthorized(in.ChatID) {
		return false, nil
	}
	if !b.operatorOrAdmin(in) {
		return true, c.Send("⚠️ 只有管理员可以设置汇率。")
	}

	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return true, c.Send("❌ 汇率格式错误。请输入有效数字。")
	}
	if err := b.books.SetExchangeRate(in.ChatID, rate); err != nil {
		return true, c.Send("❌ 汇率必须大于0。")
	}
	return true, c.Send(fmt.Sprintf("✅ 汇率已设置为 %s\n\n%s", rateStr, b.books.Bill(in.ChatID)))
}

func (b *Bot) setBillResetTime(c telebot.Context, in relay.Inbound, hourStr, minuteStr string) (bool, error) {
	if !b.books.IsAuthorized(in.ChatID) {
		return false, nil
	}
	if !b.operatorOrAdmin(in) {
		return true, c.Send("⚠️ 只有操作人可以使用记账功能。")
	}

	hour, _ := strconv.Atoi(hourStr)
	minute, _ := strconv.Atoi(minuteStr)
	formatted, err := b.books.SetResetTime(in.ChatID, hour, minute)
	if err != nil {
		return true, c.Send("❌ 时间范围错误。小时应为00-23，分钟应为00-59")
	}
	return true, c.Send(fmt.Sprintf("✅ 账单重置时间已设置为 %s", formatted))
}

func (b *Bot) showBill(c telebot.Context, in relay.Inbound) error {
	if !b.books.IsAuthorized(in.ChatID) {
		return nil
	}
	if !b.operatorOrAdmin(in) {
		return c.Send("⚠️ 只有操作人可以使用记账功能。")
	}
	return b.sendBillWithExport(c, in.ChatID)
}

func (b *Bot) authorizeAccounting(c telebot.Context, in relay.Inbound) error {
	if !b.roles.IsGlobalAdmin(in.UserID) {
		return c.Send("⚠️ 只有全局管理员可以授权群组使用记账机器人。")
	}

	b.rememberName(c, in.ChatID)
	if already := b.books.Authorize(in.ChatID); already {
		return c.Send("✅ 此群组已授权使用记账机器人。")
	}

	return c.Send("✅ 群组已授权使用记账机器人！\n\n" +
		"📋 可用命令：\n" +
		"• +金额 - 添加入款（回复消息时会记录用户）\n" +
		"• -金额 - 添加出款（回复消息时会记录用户）\n" +
		"• 下发金额 - 记录下发（回复消息时会记录用户）\n" +
		"• 设置汇率 数值 - 设置汇率\n" +
		"• 账单 - 查看当前账单\n" +
		"• 设置账单时间 HH:MM - 设置每日重置时间\n" +
		"• 导出昨日账单 - 导出昨天的账单文件")
}

func (b *Bot) authorizeSummary(c telebot.Context, in relay.Inbound) error {
	if !b.roles.IsGlobalAdmin(in.UserID) {
		return c.Send("⚠️ 只有全局管理员可以授权总群。")
	}

	b.rememberName(c, in.ChatID)
	b.books.AuthorizeSummary(in.ChatID)
	return c.Send("✅ 群组已授权为总群！\n\n可用命令：\n• 财务查账 - 查看所有记账群组的财务记录")
}

func (b *Bot) financialAudit(c telebot.Context, in relay.Inbound) error {
	if !b.books.IsSummaryGroup(in.ChatID) {
		return nil
	}

	markup := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	now := time.Now().In(b.loc)
	for i := 0; i < 7; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		label := fmt.Sprintf("%s (%d天前)", date, i)
		if i == 0 {
			label = date + " (今日)"
		}
		rows = append(rows, markup.Row(markup.Data(label, "audit_date", date)))
	}
	markup.Inline(rows...)
	return c.Send("📊 财务查账 - 请选择日期：", markup)
}

func (b *Bot) exportYesterdayBill(c telebot.Context, in relay.Inbound) error {
	if !b.books.IsAuthorized(in.ChatID) {
		return nil
	}

	yesterday := time.Now().In(b.loc).AddDate(0, 0, -1).Format("2006-01-02")
	content, ok := b.books.BillForDate(in.ChatID, yesterday)
	if !ok {
		return c.Send(fmt.Sprintf("❌ 没有找到 %s 的账单记录。", yesterday))
	}

	filename := fmt.Sprintf("%s_昨日账单_%s.txt", cleanName(b.groupName(in.ChatID)), yesterday)
	return b.sendDocument(in.ChatID, filename, content)
}

func (b *Bot) toggleBillEcho(c telebot.Context, in relay.Inbound, enable bool) error {
	if !b.operatorOrAdmin(in) {
		return c.Send("只有管理员可以切换记账提示。")
	}

	b.echoMu.Lock()
	b.echo[in.ChatID] = enable
	b.echoMu.Unlock()

	if enable {
		return c.Send("✅ 已开启记账提示")
	}
	return c.Send("✅ 已关闭记账提示")
}

func (b *Bot) billEchoEnabled(chatID int64) bool {
	b.echoMu.Lock()
	defer b.echoMu.Unlock()
	return b.echo[chatID]
}

func (b *Bot) sendBillWithExport(c telebot.Context, chatID int64) error {
	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("当前账单", "export_bill", strconv.FormatInt(chatID, 10))))
	return c.Send(b.books.Bill(chatID), markup)
}

func (b *Bot) sendDocument(chatID int64, filename, content string) error {
	doc := &telebot.Document{
		File:     telebot.FromReader(strings.NewReader(content)),
		FileName: filename,
		MIME:     "text/plain",
	}
	_, err := b.tb.Send(telebot.ChatID(chatID), doc)
	if err != nil {
		b.log.Error("send document failed",
			zap.Int64("chat_id", chatID), zap.String("filename", filename), zap.Error(err))
	}
	return err
}

func (b *Bot) rememberName(c telebot.Context, chatID int64) {
	if title := c.Chat().Title; title != "" {
		b.roles.SetName(chatID, title)
	}
}

func (b *Bot) groupName(chatID int64) string {
	if name, ok := b.roles.Name(chatID); ok {
		return name
	}
	short := chatID % 10000
	if short < 0 {
		short = -short
	}
	return fmt.Sprintf("群组%d", short)
}

// entryTarget resolves who a ledger entry is for: the explicit "@user"
// suffix wins, then the replied-to sender, then nobody.
func (b *Bot) entryTarget(c telebot.Context, explicit string) string {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		if strings.HasPrefix(explicit, "@") || strings.Trim(explicit, "0123456789.-") != "" {
			return explicit
		}
	}
	if r := c.Message().ReplyTo; r != nil && r.Sender != nil {
		if r.Sender.FirstName != "" {
			return r.Sender.FirstName
		}
		if r.Sender.Username != "" {
			return "@" + r.Sender.Username
		}
		return "未知用户"
	}
	return ""
}

// personalPerformance answers 显示业绩: the sender's own deposit total across
// the company (Group A) books for today.
func (b *Bot) personalPerformance(c telebot.Context) error {
	op := operatorName(c)
	if op == "" {
		return c.Send("无法识别操作者身份。请设置用户名或名字。")
	}
	total := b.books.OperatorCompanyTotal(b.roles, op)
	return c.Send(fmt.Sprintf("你的今日公司业绩：%s", strconv.FormatFloat(total, 'f', -1, 64)))
}

// financeSummary answers 财务计算业绩 (dayOffset 0) and 财务计算昨日业绩
// (dayOffset -1) with the per-operator company/fleet report.
func (b *Bot) financeSummary(c telebot.Context, dayOffset int) error {
	date := time.Now().In(b.loc).AddDate(0, 0, dayOffset).Format("2006-01-02")
	return c.Send(b.books.FinanceSummary(b.roles, date))
}

func operatorName(c telebot.Context) string {
	s := c.Sender()
	if s.Username != "" {
		return "@" + s.Username
	}
	return s.FirstName
}

// cleanName strips characters unsafe for filenames, keeping letters,
// digits, spaces, dashes and underscores.
func cleanName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
