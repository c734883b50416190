package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"group-relay-bot/store"
)

type fakeRoles struct {
	names   map[int64]string
	company map[int64]bool
	fleet   map[int64]bool
}

func (f *fakeRoles) IsGroupA(chatID int64) bool { return f.company[chatID] }
func (f *fakeRoles) IsGroupC(chatID int64) bool { return f.fleet[chatID] }
func (f *fakeRoles) Name(chatID int64) (string, bool) {
	n, ok := f.names[chatID]
	return n, ok
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	l, err := New(st, db, time.UTC)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.now = func() time.Time {
		return time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	}
	return l
}

func TestAuthorizeInitializesBook(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	if already := l.Authorize(-100); already {
		t.Fatal("fresh chat reported as already authorized")
	}
	if already := l.Authorize(-100); !already {
		t.Fatal("second authorize not reported as already")
	}
	if !l.IsAuthorized(-100) {
		t.Fatal("chat not authorized after Authorize")
	}
	if got := l.ExchangeRate(-100); got != defaultExchangeRate {
		t.Errorf("ExchangeRate() = %v, want default %v", got, defaultExchangeRate)
	}
}

func TestBillRendering(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	l.AddDeposit(-100, 1000, "@alice", "@op")
	l.AddDeposit(-100, -200, "@bob", "@op")
	l.AddDistribution(-100, 540, "@carol", "@op")

	bill := l.Bill(-100)
	for _, want := range []string{
		"今日入款（2笔）",
		"今日下发（1笔）",
		"+1000 / 10.8=92.59U @alice",
		"-200 / 10.8=-18.52U @bob",
		"540 / 10.8=50.00U @carol",
		"@alice 总入 1000",
		"操作人汇总:",
		"@op 入款合计 1000",
		"总入款：1000",
		"汇率：10.8",
		"应下发：92.59U",
		"已下发：50.00U",
		"未下发：42.59U",
	} {
		if !strings.Contains(bill, want) {
			t.Errorf("bill missing %q:\n%s", want, bill)
		}
	}
}

func TestSetExchangeRateValidation(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	if err := l.SetExchangeRate(-100, 0); err == nil {
		t.Error("zero rate accepted")
	}
	if err := l.SetExchangeRate(-100, -3); err == nil {
		t.Error("negative rate accepted")
	}
	if err := l.SetExchangeRate(-100, 7.2); err != nil {
		t.Fatalf("SetExchangeRate(7.2) error = %v", err)
	}
	if got := l.ExchangeRate(-100); got != 7.2 {
		t.Errorf("ExchangeRate() = %v, want 7.2", got)
	}
}

func TestSetResetTimeValidation(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	if _, err := l.SetResetTime(-100, 24, 0); err == nil {
		t.Error("hour 24 accepted")
	}
	if _, err := l.SetResetTime(-100, 8, 60); err == nil {
		t.Error("minute 60 accepted")
	}
	got, err := l.SetResetTime(-100, 8, 5)
	if err != nil {
		t.Fatalf("SetResetTime(8, 5) error = %v", err)
	}
	if got != "08:05" {
		t.Errorf("SetResetTime() = %q, want 08:05", got)
	}
}

func TestArchiveAndResetKeepsRates(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	if err := l.SetExchangeRate(-100, 9.5); err != nil {
		t.Fatalf("SetExchangeRate() error = %v", err)
	}
	l.AddDeposit(-100, 500, "@alice", "@op")

	// Move to the next day so the deposit lands in yesterday's archive.
	l.now = func() time.Time {
		return time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	}
	l.archiveAndReset(-100)

	bill := l.Bill(-100)
	if strings.Contains(bill, "@alice") {
		t.Errorf("live bill still holds archived deposits:\n%s", bill)
	}
	if got := l.ExchangeRate(-100); got != 9.5 {
		t.Errorf("ExchangeRate() after reset = %v, want 9.5", got)
	}

	archived, ok := l.BillForDate(-100, "2025-03-10")
	if !ok {
		t.Fatal("archived bill for 2025-03-10 not found")
	}
	if !strings.Contains(archived, "+500 / 9.5=52.63U @alice") {
		t.Errorf("archived bill missing deposit line:\n%s", archived)
	}
	if strings.Contains(archived, "今日") {
		t.Errorf("archived bill uses live wording:\n%s", archived)
	}
}

func TestCheckResetsFiresOnMatchingMinute(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	if _, err := l.SetResetTime(-100, 14, 30); err != nil {
		t.Fatalf("SetResetTime() error = %v", err)
	}
	l.AddDeposit(-100, 500, "@alice", "@op")

	l.CheckResets()

	if bill := l.Bill(-100); strings.Contains(bill, "@alice") {
		t.Errorf("CheckResets did not roll the book over:\n%s", bill)
	}
}

func TestCleanupDropsOldRecords(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	l.AddDeposit(-100, 500, "@old", "@op")

	// Jump past the retention window and add a fresh record.
	l.now = func() time.Time {
		return time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)
	}
	l.AddDeposit(-100, 700, "@fresh", "@op")
	l.Cleanup()

	bill := l.Bill(-100)
	if strings.Contains(bill, "@old") {
		t.Errorf("cleanup kept expired record:\n%s", bill)
	}
	if !strings.Contains(bill, "@fresh 总入 700") {
		t.Errorf("cleanup dropped live record:\n%s", bill)
	}
}

func TestConsolidatedSummary(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	l.Authorize(-200)
	l.AddDeposit(-100, 1080, "@alice", "@op1")
	l.AddDeposit(-200, 540, "@bob", "@op2")

	roles := &fakeRoles{
		names:   map[int64]string{-100: "公司一群", -200: "车队一群"},
		company: map[int64]bool{-100: true},
		fleet:   map[int64]bool{-200: true},
	}
	summary := l.ConsolidatedSummary(roles)
	for _, want := range []string{
		"财务总结 - 2025-03-10",
		"公司一群 : 1080/10.8 = 100.00",
		"车队一群 : 540/10.8 = 50.00",
		"用户汇总",
		"@op1: 1080/10.8= 100.00",
		"公司(群A)总计: 1080",
		"车队(群C)总计: 540",
		"总计: 1620/平均汇率=150.00",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestOperatorCompanyTotal(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	l.Authorize(-200)
	l.AddDeposit(-100, 1000, "@alice", "@op")
	l.AddDeposit(-100, -50, "@alice", "@op") // corrections excluded
	l.AddDeposit(-100, 200, "@bob", "@other")
	l.AddDeposit(-200, 300, "@alice", "@op") // fleet excluded

	roles := &fakeRoles{
		company: map[int64]bool{-100: true},
		fleet:   map[int64]bool{-200: true},
	}
	if got := l.OperatorCompanyTotal(roles, "@op"); got != 1000 {
		t.Errorf("OperatorCompanyTotal(@op) = %v, want 1000", got)
	}
	if got := l.OperatorCompanyTotal(roles, "@nobody"); got != 0 {
		t.Errorf("OperatorCompanyTotal(@nobody) = %v, want 0", got)
	}
}

func TestFinanceSummaryLiveAndArchived(t *testing.T) {
	t.Parallel()

	l := newTestLedger(t)
	l.Authorize(-100)
	l.Authorize(-200)
	l.AddDeposit(-100, 1000, "@alice", "@op")
	l.AddDeposit(-100, 200, "@bob", "@other")
	l.AddDeposit(-200, 300, "@alice", "@op")

	roles := &fakeRoles{
		company: map[int64]bool{-100: true},
		fleet:   map[int64]bool{-200: true},
	}
	want := []string{
		"财务计算业绩",
		"公司(群A):",
		"@op: 1000",
		"@other: 200",
		"公司合计: 1200",
		"车队(群C):",
		"@op: 300",
		"车队合计: 300",
		"公司和车队的差别",
		"@op: 1000-300=700",
		"@other: 200-0=200",
	}

	live := l.FinanceSummary(roles, "2025-03-10")
	for _, w := range want {
		if !strings.Contains(live, w) {
			t.Errorf("live summary missing %q:\n%s", w, live)
		}
	}

	// Roll over; the same report must come out of the archive.
	l.now = func() time.Time {
		return time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	}
	l.archiveAndReset(-100)
	l.archiveAndReset(-200)

	archived := l.FinanceSummary(roles, "2025-03-10")
	for _, w := range want {
		if !strings.Contains(archived, w) {
			t.Errorf("archived summary missing %q:\n%s", w, archived)
		}
	}
	if empty := l.FinanceSummary(roles, "2025-03-11"); strings.Contains(empty, "@op") {
		t.Errorf("summary for empty day has operators:\n%s", empty)
	}
}

func TestStatePersistsAcrossReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := store.New(dir)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	l, err := New(st, db, time.UTC)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Authorize(-100)
	l.AuthorizeSummary(-300)
	l.AddDeposit(-100, 250, "@alice", "@op")
	if _, err := l.SetResetTime(-100, 7, 0); err != nil {
		t.Fatalf("SetResetTime() error = %v", err)
	}

	reloaded, err := New(st, db, time.UTC)
	if err != nil {
		t.Fatalf("reload New() error = %v", err)
	}
	if !reloaded.IsAuthorized(-100) {
		t.Error("authorization lost on reload")
	}
	if !reloaded.IsSummaryGroup(-300) {
		t.Error("summary group lost on reload")
	}
	if !strings.Contains(reloaded.Bill(-100), "@alice 总入 250") {
		t.Error("transactions lost on reload")
	}
	reloaded.mu.Lock()
	gotReset := reloaded.resetTimes[-100]
	reloaded.mu.Unlock()
	if gotReset != "07:00" {
		t.Errorf("reset time after reload = %q, want 07:00", gotReset)
	}
}
