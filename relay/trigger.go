package relay

import "regexp"

// Group A request trigger formats. A bare number, or a number combined with
// 群 / 微信 / 微信群 in either order, with optional spacing. Decimals are
// allowed. Each variant is named so a failing format is easy to pin down.
var triggerPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"bare-number", regexp.MustCompile(`^(\d+(?:\.\d+)?)$`)},
	{"number-qun", regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*群$`)},
	{"qun-number", regexp.MustCompile(`^群\s*(\d+(?:\.\d+)?)$`)},
	{"weixin-number", regexp.MustCompile(`^微信\s*(\d+(?:\.\d+)?)$`)},
	{"number-weixin", regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*微信$`)},
	{"weixinqun-number", regexp.MustCompile(`^微信群\s*(\d+(?:\.\d+)?)$`)},
	{"number-weixinqun", regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*微信群$`)},
	{"weixin-qun-number", regexp.MustCompile(`^微信\s*群\s*(\d+(?:\.\d+)?)$`)},
	{"number-weixin-qun", regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*微信\s*群$`)},
}

// ParseTrigger extracts the requested amount from a Group A message.
// Texts starting with "+" are response echoes, never requests.
func ParseTrigger(text string) (amount string, ok bool) {
	if text == "" || text[0] == '+' {
		return "", false
	}
	for _, p := range triggerPatterns {
		if m := p.re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
