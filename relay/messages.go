package relay

import (
	"fmt"
	"strings"
)

// User-facing message templates. The wording is load-bearing: operators key
// off these exact phrases, and the approval content-scan matches on the
// literal "+amount" form.

const rejectionPhrase = "会员没进群呢哥哥~ 😢"

func confirmationText(amount string) string {
	return "+" + amount
}

func photoCaption(number int, setterMention string) string {
	if setterMention != "" {
		return fmt.Sprintf("🌟 群: %d 🌟 %s", number, setterMention)
	}
	return fmt.Sprintf("🌟 群: %d 🌟", number)
}

func promptText(amount string, number int) string {
	return fmt.Sprintf("💰 金额：%s\n🔢 群：%d\n\n❌ 如果会员10分钟没进群请回复0", amount, number)
}

func clickPromptText(amount string, number int, groupAName, messageLink string) string {
	if messageLink != "" {
		return fmt.Sprintf("💰 金额：%s\n🔢 群：%d\n📍 [%s](%s)", amount, number, groupAName, messageLink)
	}
	return fmt.Sprintf("💰 金额：%s\n🔢 群：%d\n📍 %s", amount, number, groupAName)
}

func releasedText(amount, number string) string {
	return fmt.Sprintf("💰 金额：%s\n🔢 群：%s\n\n倒计时1分钟销毁", amount, number)
}

func closedPromptText(number string) string {
	return "群" + number
}

func cancelledPromptText(number string) string {
	return fmt.Sprintf("群%s (取消/退出/没进/自定义金额)", number)
}

func approvalNoticeText(submitter, amount, adminMentions string) string {
	return fmt.Sprintf("👤 用户 %s 提交的自定义金额 +%s 需要全局管理员确认 %s", submitter, amount, adminMentions)
}

func approvalInstructionText(submitter string, submitterID int64, originalAmount, customAmount, number string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 需要审批:\n")
	fmt.Fprintf(&b, "👤 用户 %s (ID: %d) 在群 B 提交了自定义金额:\n", submitter, submitterID)
	fmt.Fprintf(&b, "💰 原始金额: %s\n", originalAmount)
	fmt.Fprintf(&b, "💲 自定义金额: %s\n", customAmount)
	fmt.Fprintf(&b, "🔢 群号: %s\n\n", number)
	fmt.Fprintf(&b, "✅ 审批方式:\n")
	fmt.Fprintf(&b, "1️⃣ 直接回复此消息并输入\"同意\"或\"确认\"\n")
	fmt.Fprintf(&b, "2️⃣ 或在群 B 找到用户发送的自定义金额消息（例如: +%s）并回复\"同意\"或\"确认\"", customAmount)
	return b.String()
}

func forwardedReplyText(chatTitle, link, sender, content, number, setter string) string {
	return fmt.Sprintf("[%s](%s)--%s\n内容- %s\n群：%s\n%s", chatTitle, link, sender, content, number, setter)
}

func approvedInChatText(amount string) string {
	return fmt.Sprintf("✅ 金额确认修改：+%s", amount)
}

func approvedRemoteText(amount, approver string) string {
	return fmt.Sprintf("✅ 金额确认修改：+%s (由管理员 %s 批准)", amount, approver)
}

// MessageLink builds a t.me deep link for a message in a private supergroup
// (the -100 prefix is stripped) or a plain group.
func MessageLink(chatID int64, messageID int) string {
	s := fmt.Sprintf("%d", chatID)
	if strings.HasPrefix(s, "-100") {
		return fmt.Sprintf("https://t.me/c/%s/%d", s[4:], messageID)
	}
	if chatID < 0 {
		chatID = -chatID
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", chatID, messageID)
}
