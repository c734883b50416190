package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

// onCallback routes inline button presses. telebot splits the stored
// "\funique|data" payload into Unique and Data for us.
func (b *Bot) onCallback(c telebot.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	unique := strings.TrimSpace(cb.Unique)
	data := strings.TrimSpace(cb.Data)

	switch unique {
	case "release":
		if b.proc.Release(data) {
			return c.Respond()
		}
		return c.Respond(&telebot.CallbackResponse{Text: "状态已解除"})

	case "released":
		return c.Respond(&telebot.CallbackResponse{Text: "状态已解除"})

	case "destroy_reply":
		if err := c.Delete(); err != nil {
			b.log.Warn("destroy reply failed", zap.Error(err))
			return c.Respond(&telebot.CallbackResponse{Text: "删除失败"})
		}
		return c.Respond()

	case "export_bill":
		return b.exportCurrentBill(c, data)

	case "audit_date":
		return b.auditShowGroups(c, data)

	case "audit_export":
		return b.auditExport(c, data)

	case "audit_summary":
		return b.auditSummary(c, data)
	}
	return nil
}

func (b *Bot) exportCurrentBill(c telebot.Context, data string) error {
	chatID, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "导出失败"})
	}

	today := time.Now().In(b.loc).Format("2006-01-02")
	filename := fmt.Sprintf("%s_当前账单_%s.txt", cleanName(b.groupName(chatID)), today)
	if err := b.sendDocument(c.Chat().ID, filename, b.books.Bill(chatID)); err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "导出失败"})
	}
	return c.Respond(&telebot.CallbackResponse{Text: "当前账单已导出"})
}

func (b *Bot) auditShowGroups(c telebot.Context, date string) error {
	groups := b.books.AuthorizedGroups()
	if len(groups) == 0 {
		return c.Edit("❌ 没有已授权的记账群组")
	}

	markup := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	for _, id := range groups {
		payload := fmt.Sprintf("%s:%d", date, id)
		rows = append(rows, markup.Row(markup.Data(b.groupName(id), "audit_export", payload)))
	}
	rows = append(rows, markup.Row(markup.Data("总结", "audit_summary", date)))
	markup.Inline(rows...)

	return c.Edit(fmt.Sprintf("📊 %s - 请选择群组：", date), markup)
}

func (b *Bot) auditExport(c telebot.Context, data string) error {
	date, idStr, ok := strings.Cut(data, ":")
	if !ok {
		return c.Respond(&telebot.CallbackResponse{Text: "导出失败"})
	}
	chatID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "导出失败"})
	}

	content, found := b.books.BillForDate(chatID, date)
	if !found {
		return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("❌ 没有 %s 的账单记录", date)})
	}

	name := b.groupName(chatID)
	filename := fmt.Sprintf("%s_%s_账单.txt", cleanName(name), date)
	if err := b.sendDocument(c.Chat().ID, filename, content); err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "导出失败"})
	}
	return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("%s 的 %s 账单已导出", name, date)})
}

func (b *Bot) auditSummary(c telebot.Context, date string) error {
	content := b.books.ConsolidatedSummary(b.roles)
	filename := fmt.Sprintf("财务总结_%s.txt", date)
	if err := b.sendDocument(c.Chat().ID, filename, content); err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "导出总结失败"})
	}
	return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("%s 财务总结已导出", date)})
}
