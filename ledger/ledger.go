// Package ledger implements per-group bookkeeping: deposits and
// distributions with operator attribution, exchange-rate conversion, daily
// bill rendering with rollover at a per-group reset time, and archival of
// past bills.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"group-relay-bot/model"
)

const (
	keyBooks         = "accounting_data"
	keyAuthorized    = "authorized_accounting_groups"
	keySummaryGroups = "authorized_summary_groups"
	keyResetTimes    = "bill_reset_times"

	defaultExchangeRate = 10.8
	defaultResetTime    = "00:00"
	retentionDays       = 7
)

// StateStore persists a named piece of state as JSON.
type StateStore interface {
	Load(key string, out any) (bool, error)
	Save(key string, v any) error
}

// RoleInfo is the slice of the role registry the ledger needs for the
// company/fleet breakdown and group display names.
type RoleInfo interface {
	IsGroupA(chatID int64) bool
	IsGroupC(chatID int64) bool
	Name(chatID int64) (string, bool)
}

// Transaction is one deposit (possibly negative, a correction) or one
// distribution. UserInfo is who the money is for, Operator is who recorded
// it.
type Transaction struct {
	Timestamp string  `json:"timestamp"` // HH:MM
	Amount    float64 `json:"amount"`
	UserInfo  string  `json:"user_info"`
	Operator  string  `json:"operator"`
	Type      string  `json:"type"`
	Date      string  `json:"date"` // YYYY-MM-DD
}

type book struct {
	Transactions  []Transaction `json:"transactions"`
	Distributions []Transaction `json:"distributions"`
	ExchangeRate  float64       `json:"exchange_rate"`
	FeeRate       float64       `json:"fee_rate"`
}

func newBook() *book {
	return &book{ExchangeRate: defaultExchangeRate}
}

// Ledger holds the live books of every authorized group. Mutations write
// through to the store; archived bills go to sqlite.
type Ledger struct {
	mu         sync.Mutex
	books      map[int64]*book
	authorized map[int64]struct{}
	summary    map[int64]struct{}
	resetTimes map[int64]string

	store StateStore
	db    *gorm.DB
	loc   *time.Location
	// now is swapped out by tests.
	now func() time.Time
}

func New(st StateStore, db *gorm.DB, loc *time.Location) (*Ledger, error) {
	if err := db.AutoMigrate(&model.ArchivedBill{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	l := &Ledger{
		books:      map[int64]*book{},
		authorized: map[int64]struct{}{},
		summary:    map[int64]struct{}{},
		resetTimes: map[int64]string{},
		store:      st,
		db:         db,
		loc:        loc,
		now:        time.Now,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	var books map[string]*book
	if _, err := l.store.Load(keyBooks, &books); err != nil {
		return err
	}
	for k, b := range books {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			l.books[id] = b
		}
	}

	loadSet := func(key string, into map[int64]struct{}) error {
		var ids []string
		if _, err := l.store.Load(key, &ids); err != nil {
			return err
		}
		for _, s := range ids {
			if id, err := strconv.ParseInt(s, 10, 64); err == nil {
				into[id] = struct{}{}
			}
		}
		return nil
	}
	if err := loadSet(keyAuthorized, l.authorized); err != nil {
		return err
	}
	if err := loadSet(keySummaryGroups, l.summary); err != nil {
		return err
	}

	var times map[string]string
	if _, err := l.store.Load(keyResetTimes, &times); err != nil {
		return err
	}
	for k, v := range times {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			l.resetTimes[id] = v
		}
	}
	return nil
}

// Authorize enables bookkeeping for a chat. Reports whether the chat was
// already authorized.
func (l *Ledger) Authorize(chatID int64) (already bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.authorized[chatID]; ok {
		return true
	}
	l.authorized[chatID] = struct{}{}
	if _, ok := l.books[chatID]; !ok {
		l.books[chatID] = newBook()
	}
	if _, ok := l.resetTimes[chatID]; !ok {
		l.resetTimes[chatID] = defaultResetTime
	}
	l.persistLocked()
	return false
}

func (l *Ledger) IsAuthorized(chatID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.authorized[chatID]
	return ok
}

// AuthorizedGroups returns every accounting-authorized chat, sorted.
func (l *Ledger) AuthorizedGroups() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, 0, len(l.authorized))
	for chatID := range l.authorized {
		out = append(out, chatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AuthorizeSummary marks a chat as a consolidated-summary group.
func (l *Ledger) AuthorizeSummary(chatID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary[chatID] = struct{}{}
	l.persistLocked()
}

func (l *Ledger) IsSummaryGroup(chatID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.summary[chatID]
	return ok
}

// AddDeposit records an inbound amount (negative for corrections).
func (l *Ledger) AddDeposit(chatID int64, amount float64, target, operator string) {
	l.add(chatID, amount, target, operator, "deposit")
}

// AddDistribution records an outbound payout.
func (l *Ledger) AddDistribution(chatID int64, amount float64, target, operator string) {
	l.add(chatID, amount, target, operator, "distribution")
}

func (l *Ledger) add(chatID int64, amount float64, target, operator, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bookLocked(chatID)
	now := l.now().In(l.loc)
	if operator == "" {
		operator = target
	}
	t := Transaction{
		Timestamp: now.Format("15:04"),
		Amount:    amount,
		UserInfo:  target,
		Operator:  operator,
		Type:      kind,
		Date:      now.Format("2006-01-02"),
	}
	if kind == "deposit" {
		b.Transactions = append(b.Transactions, t)
	} else {
		b.Distributions = append(b.Distributions, t)
	}
	l.persistLocked()
}

// SetExchangeRate sets a group's rate. Rejects non-positive values.
func (l *Ledger) SetExchangeRate(chatID int64, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("ledger: exchange rate must be positive, got %v", rate)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bookLocked(chatID).ExchangeRate = rate
	l.persistLocked()
	return nil
}

func (l *Ledger) ExchangeRate(chatID int64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bookLocked(chatID).ExchangeRate
}

// SetResetTime sets the daily rollover time for a group.
func (l *Ledger) SetResetTime(chatID int64, hour, minute int) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("ledger: invalid reset time %d:%d", hour, minute)
	}
	formatted := fmt.Sprintf("%02d:%02d", hour, minute)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetTimes[chatID] = formatted
	l.persistLocked()
	return formatted, nil
}

// CheckResets rolls over every authorized group whose reset time matches
// the current minute. Driven by a once-a-minute cron job.
func (l *Ledger) CheckResets() {
	l.mu.Lock()
	defer l.mu.Unlock()
	nowHM := l.now().In(l.loc).Format("15:04")
	for chatID := range l.authorized {
		reset := l.resetTimes[chatID]
		if reset == "" {
			reset = defaultResetTime
		}
		if reset == nowHM {
			l.archiveAndResetLocked(chatID)
		}
	}
}

// archiveAndReset rolls a single group over immediately.
func (l *Ledger) archiveAndReset(chatID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archiveAndResetLocked(chatID)
}

// archiveAndResetLocked renders yesterday's bill into sqlite and clears the
// day's records, keeping the rates.
func (l *Ledger) archiveAndResetLocked(chatID int64) {
	b, ok := l.books[chatID]
	if !ok {
		return
	}
	yesterday := l.now().In(l.loc).AddDate(0, 0, -1).Format("2006-01-02")

	content := renderArchivedBill(b, yesterday)
	records, merr := json.Marshal(b.Transactions)
	if merr != nil {
		zap.L().Error("marshal archived records failed", zap.Int64("chat_id", chatID), zap.Error(merr))
		records = []byte("[]")
	}
	bill := model.ArchivedBill{ChatID: chatID, Date: yesterday, Content: content, Records: string(records)}
	err := l.db.Where("chat_id = ? AND date = ?", chatID, yesterday).
		Assign(model.ArchivedBill{Content: content, Records: string(records)}).
		FirstOrCreate(&bill).Error
	if err != nil {
		zap.L().Error("archive bill failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	l.books[chatID] = &book{ExchangeRate: b.ExchangeRate, FeeRate: b.FeeRate}
	l.persistLocked()
	zap.L().Info("bill archived and reset", zap.Int64("chat_id", chatID), zap.String("date", yesterday))
}

// Bill renders the current bill for a group.
func (l *Ledger) Bill(chatID int64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[chatID]
	if !ok {
		return "❌ 此群组未初始化记账系统"
	}
	today := l.now().In(l.loc).Format("2006-01-02")
	return renderBill(b, today, true)
}

// BillForDate returns the bill for a date, today from the live book and
// older dates from the archive.
func (l *Ledger) BillForDate(chatID int64, date string) (string, bool) {
	l.mu.Lock()
	today := l.now().In(l.loc).Format("2006-01-02")
	if date == today {
		b, ok := l.books[chatID]
		l.mu.Unlock()
		if !ok {
			return "", false
		}
		return renderBill(b, today, true), true
	}
	l.mu.Unlock()

	var archived model.ArchivedBill
	err := l.db.First(&archived, "chat_id = ? AND date = ?", chatID, date).Error
	if err != nil {
		return "", false
	}
	return archived.Content, true
}

// Cleanup drops transactions and archived bills older than the retention
// window. Runs daily from cron.
func (l *Ledger) Cleanup() {
	l.mu.Lock()
	cutoff := l.now().In(l.loc).AddDate(0, 0, -retentionDays).Format("2006-01-02")
	for _, b := range l.books {
		b.Transactions = keepSince(b.Transactions, cutoff)
		b.Distributions = keepSince(b.Distributions, cutoff)
	}
	l.persistLocked()
	l.mu.Unlock()

	if err := l.db.Where("date < ?", cutoff).Delete(&model.ArchivedBill{}).Error; err != nil {
		zap.L().Error("archived bill cleanup failed", zap.Error(err))
	}
	zap.L().Info("ledger cleanup done", zap.String("cutoff", cutoff))
}

func keepSince(ts []Transaction, cutoff string) []Transaction {
	out := ts[:0]
	for _, t := range ts {
		if t.Date >= cutoff {
			out = append(out, t)
		}
	}
	return out
}

// ConsolidatedSummary renders the cross-group financial summary for today.
func (l *Ledger) ConsolidatedSummary(roles RoleInfo) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().In(l.loc)
	return renderSummary(l.summaryInputLocked(roles, now.Format("2006-01-02")), now)
}

func (l *Ledger) bookLocked(chatID int64) *book {
	b, ok := l.books[chatID]
	if !ok {
		b = newBook()
		l.books[chatID] = b
	}
	return b
}

func (l *Ledger) persistLocked() {
	books := make(map[string]*book, len(l.books))
	for id, b := range l.books {
		books[strconv.FormatInt(id, 10)] = b
	}
	if err := l.store.Save(keyBooks, books); err != nil {
		zap.L().Error("persist ledger books failed", zap.Error(err))
	}

	saveSet := func(key string, set map[int64]struct{}) {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		if err := l.store.Save(key, ids); err != nil {
			zap.L().Error("persist ledger set failed", zap.String("key", key), zap.Error(err))
		}
	}
	saveSet(keyAuthorized, l.authorized)
	saveSet(keySummaryGroups, l.summary)

	times := make(map[string]string, len(l.resetTimes))
	for id, v := range l.resetTimes {
		times[strconv.FormatInt(id, 10)] = v
	}
	if err := l.store.Save(keyResetTimes, times); err != nil {
		zap.L().Error("persist reset times failed", zap.Error(err))
	}
}
