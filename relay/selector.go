package relay

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// EligibleChats returns the Group B chats whose range accepts the amount, in
// stable sorted order. A chat with no configured range accepts anything
// inside the global bounds.
func EligibleChats(amount float64, groupB []int64, ranges map[int64]Range) []int64 {
	var out []int64
	for _, chat := range groupB {
		r, ok := ranges[chat]
		if !ok {
			if amount >= GlobalMinAmount && amount <= GlobalMaxAmount {
				out = append(out, chat)
			}
			continue
		}
		if amount >= float64(r.Min) && amount <= float64(r.Max) {
			out = append(out, chat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SelectTarget decides which Group B chat receives the request for an image.
//
// Ownership is honored when the owner can handle the amount. A stale or
// incompatible owner is overridden by range compliance: the hash branch runs
// over the eligible set and the new pick becomes the owner. ok is false when
// no chat can handle the amount; the caller must leave the image open and
// stay silent.
//
// setOwner reports that the caller should persist target as the image's new
// owner.
func SelectTarget(imageID string, owner int64, amount float64, groupB []int64, ranges map[int64]Range) (target int64, setOwner bool, ok bool) {
	eligible := EligibleChats(amount, groupB, ranges)
	if len(eligible) == 0 {
		return 0, false, false
	}

	if owner != 0 && contains(groupB, owner) {
		if contains(eligible, owner) {
			return owner, false, true
		}
		// Range compliance overrides stale ownership.
	}

	// Deterministic pick: same image ID and same eligible-set contents
	// always produce the same chat.
	idx := xxhash.Sum64String(imageID) % uint64(len(eligible))
	return eligible[idx], true, true
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
