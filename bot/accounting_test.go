package bot

import (
	"testing"

	"group-relay-bot/relay"
	"group-relay-bot/store"
)

func TestCommandPatterns(t *testing.T) {
	cases := []struct {
		name   string
		re     string
		text   string
		match  bool
		groups []string
	}{
		{"deposit", "deposit", "+1000", true, []string{"1000", ""}},
		{"deposit-decimal", "deposit", "+99.5", true, []string{"99.5", ""}},
		{"deposit-target", "deposit", "+1000 @alice", true, []string{"1000", "@alice"}},
		{"deposit-trailing-noise", "deposit", "+1000元", false, nil},
		{"withdraw", "withdraw", "-200", true, []string{"200", ""}},
		{"distribute", "distribute", "下发500", true, []string{"500", ""}},
		{"distribute-spaced", "distribute", "下发 500 @bob", true, []string{"500", "@bob"}},
		{"rate", "rate", "设置汇率 9.8", true, []string{"9.8"}},
		{"rate-compact", "rate", "设置汇率10.8", true, []string{"10.8"}},
		{"rate-missing-value", "rate", "设置汇率", false, nil},
		{"reset-time", "resetTime", "设置账单时间 08:30", true, []string{"08", "30"}},
		{"reset-time-alias", "resetTime", "设置刷新时间 23:59", true, []string{"23", "59"}},
		{"reset-time-bad", "resetTime", "设置账单时间 8点半", false, nil},
		{"set-image", "setImage", "设置群 12", true, []string{"12"}},
		{"set-image-compact", "setImage", "设置群12", true, []string{"12"}},
		{"reset-image", "resetImage", "重置群7", true, []string{"7"}},
		{"reset-image-all", "resetImage", "重置群码", false, nil},
	}

	regexps := map[string]interface {
		FindStringSubmatch(string) []string
	}{
		"deposit":    depositRe,
		"withdraw":   withdrawRe,
		"distribute": distributeRe,
		"rate":       rateRe,
		"resetTime":  resetTimeRe,
		"setImage":   setImageRe,
		"resetImage": resetImageRe,
	}

	for _, c := range cases {
		m := regexps[c.re].FindStringSubmatch(c.text)
		if (m != nil) != c.match {
			t.Errorf("%s: match(%q) = %v, want %v", c.name, c.text, m != nil, c.match)
			continue
		}
		if m == nil {
			continue
		}
		for i, want := range c.groups {
			if m[i+1] != want {
				t.Errorf("%s: group %d = %q, want %q", c.name, i+1, m[i+1], want)
			}
		}
	}
}

func TestCleanName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"机场 VIP 群", "机场 VIP 群"},
		{"group/one\\two", "grouponetwo"},
		{"  trimmed  ", "trimmed"},
		{"名字-2024_a", "名字-2024_a"},
	}
	for _, c := range cases {
		if got := cleanName(c.in); got != c.want {
			t.Errorf("cleanName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDepositDefersToPendingConfirmation(t *testing.T) {
	t.Parallel()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	roles, err := relay.NewRoles(st, nil)
	if err != nil {
		t.Fatalf("NewRoles() error = %v", err)
	}
	corr, err := relay.NewCorrelation(st)
	if err != nil {
		t.Fatalf("NewCorrelation() error = %v", err)
	}

	const supplyChat = int64(-1002222222222)
	roles.SetRole(supplyChat, relay.RoleGroupB, "供群")
	if err := corr.Create(relay.ForwardedRequest{
		ImageID:      "img-1",
		GroupAChatID: -1001111111111,
		GroupBChatID: supplyChat,
		GroupBMsgID:  10,
		Amount:       "50",
		Number:       "3",
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cases := []struct {
		name   string
		chatID int64
		amount string
		target string
		want   bool
	}{
		{"matching amount in supply chat", supplyChat, "50", "", true},
		{"matching display number", supplyChat, "3", "", true},
		{"different amount", supplyChat, "60", "", false},
		{"explicit target stays a deposit", supplyChat, "50", "@alice", false},
		{"other chat keeps its ledger", -1003333333333, "50", "", false},
	}
	for _, c := range cases {
		if got := amountMatchesPending(corr, roles, c.chatID, c.amount, c.target); got != c.want {
			t.Errorf("%s: amountMatchesPending() = %v, want %v", c.name, got, c.want)
		}
	}

	if _, ok := corr.Resolve("img-1"); !ok {
		t.Fatal("Resolve() lost the request")
	}
	if amountMatchesPending(corr, roles, supplyChat, "50", "") {
		t.Error("resolved request still blocks deposits")
	}
}
