package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"group-relay-bot/model"
	"group-relay-bot/relay"
)

var (
	setImageRe   = regexp.MustCompile(`设置群\s*(\d+)`)
	resetImageRe = regexp.MustCompile(`^重置群(\d+)$`)
)

func (b *Bot) operatorOrAdmin(in relay.Inbound) bool {
	return b.roles.IsGroupAdmin(in.UserID, in.ChatID) || b.roles.IsGlobalAdmin(in.UserID)
}

func (b *Bot) assignRole(c telebot.Context, in relay.Inbound, role relay.Role) error {
	if !b.roles.IsGlobalAdmin(in.UserID) {
		if role == relay.RoleGroupC {
			return c.Send("只有全局管理员可以设置群聊C（车队）。")
		}
		return c.Send("只有全局管理员可以设置群聊类型。")
	}

	b.roles.SetRole(in.ChatID, role, c.Chat().Title)
	b.log.Info("group role assigned",
		zap.Int64("chat_id", in.ChatID), zap.Stringer("role", role), zap.Int64("admin", in.UserID))

	if role == relay.RoleGroupC {
		return c.Send("✅ 此群已设置为群聊C（车队）。")
	}
	// A/B assignment stays quiet in the room.
	return nil
}

func (b *Bot) dissolveGroup(c telebot.Context, in relay.Inbound) error {
	if !b.roles.IsGlobalAdmin(in.UserID) {
		return c.Send("只有全局管理员可以解散群聊设置。")
	}

	prev := b.roles.ClearRole(in.ChatID)
	if prev == relay.RoleNone {
		return c.Send("此群聊未设置为任何群组类型。")
	}

	names := map[relay.Role]string{
		relay.RoleGroupA: "群聊A",
		relay.RoleGroupB: "群聊B",
		relay.RoleGroupC: "群聊C（车队）",
	}
	return c.Send(fmt.Sprintf("✅ 此群聊已从%s中移除。其他群聊不受影响。", names[prev]))
}

func (b *Bot) promoteOperator(c telebot.Context, in relay.Inbound) error {
	if !b.roles.IsGlobalAdmin(in.UserID) {
		return nil
	}
	reply := c.Message().ReplyTo
	if reply == nil || reply.Sender == nil {
		return c.Send("请回复要设置为操作人的用户消息。")
	}

	b.roles.AddGroupAdmin(reply.Sender.ID, in.ChatID)
	return c.Send(fmt.Sprintf("👑 已将用户 %s 设置为群操作人。", reply.Sender.FirstName))
}

func (b *Bot) toggleForwarding(c telebot.Context, in relay.Inbound, text string) error {
	if !b.roles.IsGlobalAdmin(in.UserID) {
		return c.Send("只有全局管理员可以切换转发状态。")
	}

	var status string
	switch {
	case strings.Contains(text, "开启转发"):
		b.prefs.SetForwarding(true)
		status = "✅ 群转发功能已开启 - 消息将从群B转发到群A"
	case strings.Contains(text, "关闭转发"):
		b.prefs.SetForwarding(false)
		status = "🚫 群转发功能已关闭 - 消息将不会从群B转发到群A"
	default:
		enabled := !b.prefs.ForwardingEnabled()
		b.prefs.SetForwarding(enabled)
		if enabled {
			status = "✅ 群转发功能已开启"
		} else {
			status = "🚫 群转发功能已关闭"
		}
	}
	return c.Send(status)
}

func (b *Bot) toggleClickMode(c telebot.Context, in relay.Inbound) error {
	if !b.roles.IsGroupB(in.ChatID) {
		return nil
	}
	if !b.operatorOrAdmin(in) {
		return c.Send("只有群操作人或全局管理员可以设置点击模式。")
	}

	if b.prefs.ToggleClickMode(in.ChatID) {
		return c.Send("✅ 已开启点击模式 - 机器人消息将显示解除按钮")
	}
	return c.Send("❌ 已关闭点击模式 - 恢复默认模式")
}

// setGroupImage registers a photo sent with a 设置群 N caption as this
// chat's inventory.
func (b *Bot) setGroupImage(c telebot.Context, in relay.Inbound, numberStr string) error {
	if !b.operatorOrAdmin(in) {
		return c.Send("只有群操作人可以设置图片。请联系管理员。")
	}

	number, err := strconv.Atoi(numberStr)
	if err != nil {
		return c.Send("请使用正确的格式：设置群 {number}")
	}

	img, err := b.images.Add(number, c.Message().Photo.FileID, in.UserID, in.Username, in.DisplayName)
	if err != nil {
		b.log.Error("add image failed", zap.Int("number", number), zap.Error(err))
		return c.Send("设置图片失败，该图片可能已存在。请重试。")
	}
	if err := b.images.SetOwner(img.ID, in.ChatID); err != nil {
		b.log.Error("set image owner failed", zap.String("image_id", img.ID), zap.Error(err))
	}

	b.log.Info("image registered",
		zap.String("image_id", img.ID), zap.Int("number", number), zap.Int64("owner", in.ChatID))
	return c.Send(fmt.Sprintf("✅ 已设置群聊为%d群", number))
}

func (b *Bot) resetAllImages(c telebot.Context, in relay.Inbound) error {
	if !b.roles.IsGroupB(in.ChatID) {
		return nil
	}
	if !b.operatorOrAdmin(in) {
		return c.Send("只有群操作人或全局管理员可以重置群码。")
	}

	count, err := b.images.ClearByOwner(in.ChatID)
	if err != nil {
		b.log.Error("clear images failed", zap.Int64("chat_id", in.ChatID), zap.Error(err))
		return c.Send("重置群码时出错，请查看日志。")
	}
	b.corr.RemoveByGroupB(in.ChatID)

	return c.Send(fmt.Sprintf("🔄 已重置所有群码! 共清除了 %d 个图片。", count))
}

func (b *Bot) resetImageByNumber(c telebot.Context, in relay.Inbound, numberStr string) error {
	if !b.roles.IsGroupB(in.ChatID) {
		return nil
	}
	if !b.operatorOrAdmin(in) {
		return c.Send("只有群操作人或全局管理员可以重置群码。")
	}

	number, err := strconv.Atoi(numberStr)
	if err != nil {
		return nil
	}

	deleted, err := b.images.DeleteByNumber(number, in.ChatID)
	if err != nil {
		b.log.Error("delete image failed", zap.Int("number", number), zap.Error(err))
		return c.Send(fmt.Sprintf("❌ 重置群码 %d 失败。未找到匹配的图片。", number))
	}
	b.corr.RemoveByNumber(numberStr, in.ChatID)

	if deleted > 0 {
		return c.Send(fmt.Sprintf("✅ 已重置群码 %d，删除了 %d 张图片。", number, deleted))
	}
	return c.Send(fmt.Sprintf("⚠️ 未找到群号为 %d 的图片，或者删除操作失败。", number))
}

// --- Slash commands ---

func (b *Bot) handleID(c telebot.Context) error {
	msg := fmt.Sprintf("👤 您的用户 ID: %d\n🌐 群聊 ID: %d\n📱 群聊类型: %s",
		c.Sender().ID, c.Chat().ID, c.Chat().Type)
	if r := c.Message().ReplyTo; r != nil && r.Sender != nil {
		msg += fmt.Sprintf("\n\n↩️ 回复的用户信息:\n👤 用户 ID: %d\n📝 用户名: %s",
			r.Sender.ID, r.Sender.FirstName)
	}
	return c.Send(msg)
}

func (b *Bot) handleAdminCommand(c telebot.Context) error {
	if !b.roles.IsGlobalAdmin(c.Sender().ID) {
		return c.Send("只有全局管理员可以使用此命令。")
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Send("用法: /admin <user_id> - 将用户设置为群操作人")
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("用户 ID 必须是数字。")
	}

	b.roles.AddGroupAdmin(target, c.Chat().ID)
	return c.Send(fmt.Sprintf("👤 用户 %d 已设置为此群的操作人。", target))
}

func (b *Bot) handleAdminList(c telebot.Context) error {
	if !b.roles.IsGlobalAdmin(c.Sender().ID) {
		return c.Send("只有全局管理员可以使用此命令。")
	}
	lines := []string{"👑 全局管理员列表:"}
	for _, id := range b.roles.GlobalAdmins() {
		chat, err := b.tb.ChatByID(id)
		if err != nil {
			lines = append(lines, fmt.Sprintf("ID: %d", id))
			continue
		}
		name := chat.Username
		if name == "" {
			name = chat.FirstName
		}
		if name == "" {
			lines = append(lines, fmt.Sprintf("ID: %d", id))
			continue
		}
		lines = append(lines, fmt.Sprintf("ID: %d - @%s", id, name))
	}
	return c.Send(strings.Join(lines, "\n"))
}

func (b *Bot) adminPrivateOnly(c telebot.Context) bool {
	return c.Chat().Type == telebot.ChatPrivate && b.roles.IsGlobalAdmin(c.Sender().ID)
}

func (b *Bot) handleDebug(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("Only global admins can use this command in private chat.")
	}

	open, closed, _ := b.images.CountByStatus()
	info := []string{
		fmt.Sprintf("🔹 Group A IDs: %v", b.roles.GroupAChats()),
		fmt.Sprintf("🔸 Group B IDs: %v", b.roles.GroupBChats()),
		fmt.Sprintf("📨 Forwarded Messages: %d", b.corr.Len()),
		fmt.Sprintf("📋 Pending Approvals: %d", len(b.approvals.Pending())),
		fmt.Sprintf("🖼️ Images: %d open / %d closed", open, closed),
		fmt.Sprintf("⚙️ Forwarding Enabled: %v", b.prefs.ForwardingEnabled()),
	}
	return c.Send(strings.Join(info, "\n"))
}

func (b *Bot) handleSetRange(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}
	args := c.Args()
	if len(args) != 3 {
		return c.Send("Usage: /setgroupbrange <group_b_id> <min> <max>\nExample: /setgroupbrange -1002648811668 100 500")
	}

	groupID, err1 := strconv.ParseInt(args[0], 10, 64)
	min, err2 := strconv.Atoi(args[1])
	max, err3 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return c.Send("❌ Invalid format. Use: /setgroupbrange <group_b_id> <min> <max>")
	}
	if min < relay.GlobalMinAmount || max > relay.GlobalMaxAmount {
		return c.Send(fmt.Sprintf("❌ Amount range must be within %d-%d", relay.GlobalMinAmount, relay.GlobalMaxAmount))
	}
	if min >= max {
		return c.Send("❌ Minimum amount must be less than maximum amount")
	}
	if !b.roles.IsGroupB(groupID) {
		return c.Send(fmt.Sprintf("❌ Group B ID %d is not registered. Use /listgroupb to see valid Group B IDs.", groupID))
	}

	if !b.prefs.SetRange(groupID, min, max) {
		return c.Send("❌ Error setting Group B amount range")
	}
	return c.Send(fmt.Sprintf("✅ Set amount range for Group B %d: %d-%d\nOnly amounts in this range will be routed to it.", groupID, min, max))
}

func (b *Bot) handleRemoveRange(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /removegroupbrange <group_b_id>")
	}
	groupID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("❌ Invalid group ID format")
	}

	r, ok := b.prefs.RemoveRange(groupID)
	if !ok {
		return c.Send(fmt.Sprintf("❌ No amount range is set for Group B %d", groupID))
	}
	return c.Send(fmt.Sprintf("✅ Removed amount range for Group B %d (was %d-%d)\nThis group now accepts the global range %d-%d.",
		groupID, r.Min, r.Max, relay.GlobalMinAmount, relay.GlobalMaxAmount))
}

func (b *Bot) handleListRanges(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}

	ranges := b.prefs.Ranges()
	var sb strings.Builder
	sb.WriteString("📊 Group B Amount Ranges:\n\n")
	for _, id := range b.roles.GroupBChats() {
		if r, ok := ranges[id]; ok {
			fmt.Fprintf(&sb, "• %d: %d-%d\n", id, r.Min, r.Max)
		} else {
			fmt.Fprintf(&sb, "• %d: default (%d-%d)\n", id, relay.GlobalMinAmount, relay.GlobalMaxAmount)
		}
	}
	if len(b.roles.GroupBChats()) == 0 {
		sb.WriteString("No Group B chats are registered.")
	}
	return c.Send(sb.String())
}

func (b *Bot) handleSetPercent(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}
	args := c.Args()
	if len(args) != 2 {
		return c.Send("Usage: /setgroupbpercent <group_b_id> <percentage>\nExample: /setgroupbpercent -1002648811668 75")
	}

	groupID, err1 := strconv.ParseInt(args[0], 10, 64)
	percent, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return c.Send("❌ Invalid format. Use: /setgroupbpercent <group_b_id> <percentage>")
	}
	if percent < 0 || percent > 100 {
		return c.Send("❌ Percentage must be between 0 and 100")
	}
	if !b.roles.IsGroupB(groupID) {
		return c.Send(fmt.Sprintf("⚠️ Group ID %d is not a registered Group B", groupID))
	}

	b.prefs.SetWeight(groupID, percent)
	return c.Send(fmt.Sprintf("✅ Set Group B %d to %d%% chance for image distribution", groupID, percent))
}

func (b *Bot) handleResetPercents(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}
	b.prefs.ResetWeights()
	return c.Send("✅ All Group B percentages have been reset. Image distribution is back to normal.")
}

func (b *Bot) handleListPercents(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}

	weights := b.prefs.Weights()
	if len(weights) == 0 {
		return c.Send("📊 No Group B percentage limits are set. All groups have normal distribution.")
	}
	var sb strings.Builder
	sb.WriteString("📊 Group B Percentages:\n\n")
	for _, id := range b.roles.GroupBChats() {
		if w, ok := weights[id]; ok {
			fmt.Fprintf(&sb, "• %d: %d%%\n", id, w)
		}
	}
	return c.Send(sb.String())
}

func (b *Bot) handleResetQueue(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}
	if err := b.images.ResetQueue(); err != nil {
		b.log.Error("reset queue failed", zap.Error(err))
		return c.Send("❌ Failed to reset image queue")
	}
	return c.Send("✅ Image queue has been reset. Next image will start from the first image in setup order.")
}

func (b *Bot) handleQueueStatus(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}

	st, err := b.images.Status()
	if err != nil {
		b.log.Error("queue status failed", zap.Error(err))
		return c.Send("❌ Error getting queue status")
	}

	var sb strings.Builder
	sb.WriteString("📋 Queue Status:\n\n")
	fmt.Fprintf(&sb, "🔢 Total Images: %d\n", st.Total)
	fmt.Fprintf(&sb, "🟢 Open Images: %d\n", st.Open)
	fmt.Fprintf(&sb, "🔴 Closed Images: %d\n", st.Closed)
	fmt.Fprintf(&sb, "📍 Cursor Position: %d\n\n", st.CursorPos)

	if st.LastImage != nil {
		fmt.Fprintf(&sb, "📌 Last Sent Image:\n   🆔 ID: %s\n   🔢 Number: %d\n   ⚡ Status: %s\n\n",
			st.LastImage.ID, st.LastImage.Number, st.LastImage.Status)
	}
	if st.NextImage != nil {
		fmt.Fprintf(&sb, "⏭️ Next Image (OPEN only):\n   🆔 ID: %s\n   🔢 Number: %d\n\n",
			st.NextImage.ID, st.NextImage.Number)
	} else {
		sb.WriteString("⚠️ No open images available for next send\n\n")
	}

	sb.WriteString("📜 Queue Order (Setup Order):\n")
	for i, img := range st.QueueOrder {
		emoji := "🔴"
		if img.Status == model.StatusOpen {
			emoji = "🟢"
		}
		fmt.Fprintf(&sb, "%d. %s Group %d (pos: %d)\n", i+1, emoji, img.Number, img.QueuePosition)
	}
	return c.Send(sb.String())
}

func (b *Bot) handleListGroupB(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}

	chats := b.roles.GroupBChats()
	if len(chats) == 0 {
		return c.Send("📋 No Group B chats are registered.")
	}

	weights := b.prefs.Weights()
	var sb strings.Builder
	sb.WriteString("📋 Registered Group B chats:\n\n")
	for _, id := range chats {
		name := b.groupName(id)
		fmt.Fprintf(&sb, "• %s (%d)\n", name, id)
		if r, ok := b.prefs.RangeOf(id); ok {
			fmt.Fprintf(&sb, "  💵 Range: %d-%d\n", r.Min, r.Max)
		} else {
			fmt.Fprintf(&sb, "  💵 Range: default %d-%d\n", relay.GlobalMinAmount, relay.GlobalMaxAmount)
		}
		if w, ok := weights[id]; ok {
			fmt.Fprintf(&sb, "  🎲 Weight: %d%%\n", w)
		}
		if b.prefs.ClickMode(id) {
			sb.WriteString("  🖱️ Click mode: on\n")
		}
	}
	return c.Send(sb.String())
}

func (b *Bot) handleToggleFallback(c telebot.Context) error {
	if !b.adminPrivateOnly(c) {
		return c.Send("⚠️ Only global admins can use this command.")
	}
	enabled := !b.prefs.RecentFallbackEnabled()
	b.prefs.SetRecentFallback(enabled)
	if enabled {
		return c.Send("✅ Lone-number fallback matching enabled.")
	}
	return c.Send("🚫 Lone-number fallback matching disabled.")
}
