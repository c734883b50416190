package relay

import "strconv"

// Chat and message IDs are stored as strings in JSON and parsed back to
// integers on load. Mixed int/string keys in storage break every membership
// check downstream, so all persisted maps String their keys through here.

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseIDKey(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func msgKey(id int) string {
	return strconv.Itoa(id)
}

func parseMsgKey(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
