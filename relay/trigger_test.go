package relay

import "testing"

func TestParseTrigger(t *testing.T) {
	cases := []struct {
		text   string
		amount string
		ok     bool
	}{
		{"100", "100", true},
		{"100.50", "100.50", true},
		{"100群", "100", true},
		{"100 群", "100", true},
		{"群100", "100", true},
		{"微信 200", "200", true},
		{"200微信", "200", true},
		{"微信群300", "300", true},
		{"300 微信群", "300", true},
		{"微信 群 400", "400", true},
		{"400 微信 群", "400", true},
		{"+100", "", false},
		{"", "", false},
		{"100元", "", false},
		{"转100给我", "", false},
		{"群", "", false},
	}
	for _, c := range cases {
		amount, ok := ParseTrigger(c.text)
		if ok != c.ok || amount != c.amount {
			t.Errorf("ParseTrigger(%q) = (%q, %v), want (%q, %v)", c.text, amount, ok, c.amount, c.ok)
		}
	}
}
