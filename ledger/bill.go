package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// renderBill produces the bill text for one group and one day. today=true
// uses the live-bill wording ("今日入款"), the archived variant drops it.
func renderBill(b *book, date string, today bool) string {
	var deposits, withdrawals, distributions []Transaction
	for _, t := range b.Transactions {
		if t.Date != date {
			continue
		}
		if t.Amount > 0 {
			deposits = append(deposits, t)
		} else if t.Amount < 0 {
			withdrawals = append(withdrawals, t)
		}
	}
	for _, t := range b.Distributions {
		if t.Date == date {
			distributions = append(distributions, t)
		}
	}

	rate := b.ExchangeRate
	prefix := ""
	if today {
		prefix = "今日"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s入款（%d笔）\n", prefix, len(deposits)+len(withdrawals))
	for _, t := range append(append([]Transaction{}, deposits...), withdrawals...) {
		sign := ""
		if t.Amount >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&sb, "%s  %s%s / %s=%.2fU %s\n",
			t.Timestamp, sign, formatAmount(t.Amount), formatAmount(rate), t.Amount/rate, t.UserInfo)
	}

	fmt.Fprintf(&sb, "\n%s下发（%d笔）\n", prefix, len(distributions))
	for _, t := range distributions {
		fmt.Fprintf(&sb, "%s  %s / %s=%.2fU %s\n",
			t.Timestamp, formatAmount(t.Amount), formatAmount(rate), t.Amount/rate, t.UserInfo)
	}

	// Per-target and per-operator deposit totals over the whole book; the
	// book only ever holds the current period.
	userTotals := map[string]float64{}
	operatorTotals := map[string]float64{}
	for _, t := range b.Transactions {
		if t.Amount > 0 {
			userTotals[t.UserInfo] += t.Amount
			if t.Operator != "" {
				operatorTotals[t.Operator] += t.Amount
			}
		}
	}

	sb.WriteString("\n")
	for _, kv := range sortedTotals(userTotals) {
		fmt.Fprintf(&sb, "%s 总入 %s\n", kv.key, formatAmount(kv.val))
	}
	if len(operatorTotals) > 0 {
		sb.WriteString("\n操作人汇总:\n")
		for _, kv := range sortedTotals(operatorTotals) {
			fmt.Fprintf(&sb, "%s 入款合计 %s\n", kv.key, formatAmount(kv.val))
		}
	}

	var totalDeposits, totalDistributions float64
	for _, t := range b.Transactions {
		if t.Amount > 0 {
			totalDeposits += t.Amount
		}
	}
	for _, t := range b.Distributions {
		totalDistributions += t.Amount
	}

	shouldDistribute := totalDeposits / rate * (1 - b.FeeRate/100)
	distributed := totalDistributions / rate

	fmt.Fprintf(&sb, "\n总入款：%s\n", formatAmount(totalDeposits))
	fmt.Fprintf(&sb, "汇率：%s\n", formatAmount(rate))
	fmt.Fprintf(&sb, "交易费率：%s%%\n\n", formatAmount(b.FeeRate))
	fmt.Fprintf(&sb, "应下发：%.2fU\n", shouldDistribute)
	fmt.Fprintf(&sb, "已下发：%.2fU\n", distributed)
	fmt.Fprintf(&sb, "未下发：%.2fU", shouldDistribute-distributed)

	return sb.String()
}

func renderArchivedBill(b *book, date string) string {
	return renderBill(b, date, false)
}

type keyedTotal struct {
	key string
	val float64
}

func sortedTotals(m map[string]float64) []keyedTotal {
	out := make([]keyedTotal, 0, len(m))
	for k, v := range m {
		out = append(out, keyedTotal{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].val != out[j].val {
			return out[i].val > out[j].val
		}
		return out[i].key < out[j].key
	})
	return out
}

type groupSummary struct {
	chatID  int64
	name    string
	total   float64
	rate    float64
	users   map[string]float64
	company bool // Group A
	fleet   bool // Group C
}

// summaryInputLocked collects per-group net deposits for one date, keyed by
// operator, skipping groups with no positive net.
func (l *Ledger) summaryInputLocked(roles RoleInfo, date string) []groupSummary {
	var out []groupSummary
	ids := make([]int64, 0, len(l.authorized))
	for id := range l.authorized {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, chatID := range ids {
		b, ok := l.books[chatID]
		if !ok {
			continue
		}
		users := map[string]float64{}
		var net float64
		var any bool
		for _, t := range b.Transactions {
			if t.Date != date || t.Amount == 0 {
				continue
			}
			any = true
			net += t.Amount
			op := t.Operator
			if op == "" {
				op = t.UserInfo
			}
			users[op] += t.Amount
		}
		if !any || net <= 0 {
			continue
		}
		for op, v := range users {
			if v <= 0 || strings.TrimSpace(op) == "" {
				delete(users, op)
			}
		}

		name, ok := roles.Name(chatID)
		if !ok {
			name = fmt.Sprintf("群组 %d", abs64(chatID)%10000)
		}
		out = append(out, groupSummary{
			chatID:  chatID,
			name:    name,
			total:   net,
			rate:    b.ExchangeRate,
			users:   users,
			company: roles.IsGroupA(chatID),
			fleet:   roles.IsGroupC(chatID),
		})
	}
	return out
}

// renderSummary produces the consolidated cross-group financial summary.
func renderSummary(groups []groupSummary, now time.Time) string {
	date := now.Format("2006-01-02")
	var sb strings.Builder
	fmt.Fprintf(&sb, "财务总结 - %s\n%s\n\n", date, strings.Repeat("=", 50))

	if len(groups) == 0 {
		sb.WriteString("❌ 没有找到该日期的有效记录")
		return sb.String()
	}

	allUsers := map[string]float64{}
	companyUsers := map[string]float64{}
	fleetUsers := map[string]float64{}

	for _, g := range groups {
		fmt.Fprintf(&sb, "%s : %s/%s = %.2f\n", g.name, formatAmount(g.total), formatAmount(g.rate), g.total/g.rate)
		for _, kv := range sortedTotals(g.users) {
			fmt.Fprintf(&sb, "%s: %s/%s= %.2f\n", kv.key, formatAmount(kv.val), formatAmount(g.rate), kv.val/g.rate)
			allUsers[kv.key] += kv.val
			if g.company {
				companyUsers[kv.key] += kv.val
			}
			if g.fleet {
				fleetUsers[kv.key] += kv.val
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("用户汇总\n")
	summaryRate := groups[0].rate
	for _, kv := range sortedTotals(allUsers) {
		fmt.Fprintf(&sb, "%s: %s/%s= %.2f\n", kv.key, formatAmount(kv.val), formatAmount(summaryRate), kv.val/summaryRate)
	}

	if len(companyUsers) > 0 || len(fleetUsers) > 0 {
		sb.WriteString("\n公司(群A) 用户汇总\n")
		for _, kv := range sortedTotals(companyUsers) {
			fmt.Fprintf(&sb, "%s: %s\n", kv.key, formatAmount(kv.val))
		}
		sb.WriteString("\n车队(群C) 用户汇总\n")
		for _, kv := range sortedTotals(fleetUsers) {
			fmt.Fprintf(&sb, "%s: %s\n", kv.key, formatAmount(kv.val))
		}
	}

	sb.WriteString("\n账单汇总\n")
	var totalDeposits, totalUSD, companyTotal, fleetTotal float64
	for _, g := range groups {
		fmt.Fprintf(&sb, "%s: %s/%s=%.2f\n", g.name, formatAmount(g.total), formatAmount(g.rate), g.total/g.rate)
		totalDeposits += g.total
		totalUSD += g.total / g.rate
		if g.company {
			companyTotal += g.total
		}
		if g.fleet {
			fleetTotal += g.total
		}
	}
	fmt.Fprintf(&sb, "总计: %s/平均汇率=%.2f\n", formatAmount(totalDeposits), totalUSD)
	fmt.Fprintf(&sb, "公司(群A)总计: %s\n", formatAmount(companyTotal))
	fmt.Fprintf(&sb, "车队(群C)总计: %s\n", formatAmount(fleetTotal))

	fmt.Fprintf(&sb, "\n生成时间: %s (新加坡时间)", now.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
