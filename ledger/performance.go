package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"group-relay-bot/model"
)

// OperatorCompanyTotal sums today's positive deposits recorded by one
// operator across every company (Group A) book.
func (l *Ledger) OperatorCompanyTotal(roles RoleInfo, operator string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := l.now().In(l.loc).Format("2006-01-02")

	var total float64
	for chatID, b := range l.books {
		if !roles.IsGroupA(chatID) {
			continue
		}
		for _, t := range b.Transactions {
			if t.Date == today && t.Amount > 0 && t.Operator == operator {
				total += t.Amount
			}
		}
	}
	return total
}

// FinanceSummary renders the per-operator performance report for one date:
// company (Group A) and fleet (Group C) deposit totals per operator, then
// the company-minus-fleet difference per operator. Today reads the live
// books, past dates read the archived records.
func (l *Ledger) FinanceSummary(roles RoleInfo, date string) string {
	company := map[string]float64{}
	fleet := map[string]float64{}

	l.mu.Lock()
	today := l.now().In(l.loc).Format("2006-01-02")
	if date == today {
		for chatID, b := range l.books {
			l.collectOperatorTotals(roles, chatID, b.Transactions, date, company, fleet)
		}
		l.mu.Unlock()
	} else {
		l.mu.Unlock()
		var archived []model.ArchivedBill
		if err := l.db.Where("date = ?", date).Find(&archived).Error; err != nil {
			zap.L().Error("load archived records failed", zap.String("date", date), zap.Error(err))
		}
		for _, bill := range archived {
			var ts []Transaction
			if err := json.Unmarshal([]byte(bill.Records), &ts); err != nil {
				continue
			}
			l.collectOperatorTotals(roles, bill.ChatID, ts, date, company, fleet)
		}
	}

	return renderFinanceSummary(company, fleet)
}

func (l *Ledger) collectOperatorTotals(roles RoleInfo, chatID int64, ts []Transaction, date string, company, fleet map[string]float64) {
	for _, t := range ts {
		if t.Date != date || t.Amount <= 0 || t.Operator == "" {
			continue
		}
		switch {
		case roles.IsGroupC(chatID):
			fleet[t.Operator] += t.Amount
		case roles.IsGroupA(chatID):
			company[t.Operator] += t.Amount
		}
	}
}

func renderFinanceSummary(company, fleet map[string]float64) string {
	lines := []string{"财务计算业绩"}

	if len(company) > 0 {
		lines = append(lines, "", "公司(群A):")
		var sum float64
		for _, kv := range sortedTotals(company) {
			lines = append(lines, fmt.Sprintf("%s: %s", kv.key, formatAmount(kv.val)))
			sum += kv.val
		}
		lines = append(lines, fmt.Sprintf("公司合计: %s", formatAmount(sum)))
	}
	if len(fleet) > 0 {
		lines = append(lines, "", "车队(群C):")
		var sum float64
		for _, kv := range sortedTotals(fleet) {
			lines = append(lines, fmt.Sprintf("%s: %s", kv.key, formatAmount(kv.val)))
			sum += kv.val
		}
		lines = append(lines, fmt.Sprintf("车队合计: %s", formatAmount(sum)))
	}

	// Per-operator company-minus-fleet difference, company operators first.
	if len(company) > 0 || len(fleet) > 0 {
		lines = append(lines, "", "公司和车队的差别")
		seen := map[string]bool{}
		ordered := make([]string, 0, len(company)+len(fleet))
		for _, kv := range sortedTotals(company) {
			ordered = append(ordered, kv.key)
			seen[kv.key] = true
		}
		for _, kv := range sortedTotals(fleet) {
			if !seen[kv.key] {
				ordered = append(ordered, kv.key)
			}
		}
		for _, op := range ordered {
			a, c := company[op], fleet[op]
			lines = append(lines, fmt.Sprintf("%s: %s-%s=%s", op, formatAmount(a), formatAmount(c), formatAmount(a-c)))
		}
	}

	return strings.Join(lines, "\n")
}
