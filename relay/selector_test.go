package relay

import "testing"

func TestEligibleChatsDefaultBounds(t *testing.T) {
	t.Parallel()

	groupB := []int64{-200, -100}
	got := EligibleChats(40, groupB, nil)
	if len(got) != 2 {
		t.Fatalf("EligibleChats(40) = %v, want both chats", got)
	}
	if got[0] != -200 || got[1] != -100 {
		t.Fatalf("EligibleChats() order = %v, want sorted", got)
	}

	if got := EligibleChats(10, groupB, nil); len(got) != 0 {
		t.Fatalf("EligibleChats(10) = %v, want empty below global min", got)
	}
	if got := EligibleChats(6000, groupB, nil); len(got) != 0 {
		t.Fatalf("EligibleChats(6000) = %v, want empty above global max", got)
	}
}

func TestSelectTargetHonorsCompatibleOwner(t *testing.T) {
	t.Parallel()

	groupB := []int64{-100, -200}
	ranges := map[int64]Range{
		-100: {Min: 20, Max: 200},
		-200: {Min: 300, Max: 2000},
	}

	target, setOwner, ok := SelectTarget("img-1", -100, 40, groupB, ranges)
	if !ok {
		t.Fatalf("SelectTarget() ok = false")
	}
	if target != -100 {
		t.Fatalf("SelectTarget() = %d, want owner -100", target)
	}
	if setOwner {
		t.Fatalf("SelectTarget() setOwner = true for honored owner")
	}
}

func TestSelectTargetRangeOverridesOwnership(t *testing.T) {
	t.Parallel()

	groupB := []int64{-100, -200}
	ranges := map[int64]Range{
		-100: {Min: 20, Max: 200},
		-200: {Min: 300, Max: 2000},
	}

	// Same image still owned by -100, amount outside -100's range.
	target, setOwner, ok := SelectTarget("img-1", -100, 300, groupB, ranges)
	if !ok {
		t.Fatalf("SelectTarget() ok = false")
	}
	if target != -200 {
		t.Fatalf("SelectTarget() = %d, want -200 (ownership overridden by range)", target)
	}
	if !setOwner {
		t.Fatalf("SelectTarget() setOwner = false, want new owner persisted")
	}
}

func TestSelectTargetEmptyEligible(t *testing.T) {
	t.Parallel()

	ranges := map[int64]Range{-100: {Min: 20, Max: 50}}
	if _, _, ok := SelectTarget("img-1", 0, 100, []int64{-100}, ranges); ok {
		t.Fatalf("SelectTarget() ok = true with no eligible chat")
	}
	if _, _, ok := SelectTarget("img-1", 0, 100, nil, nil); ok {
		t.Fatalf("SelectTarget() ok = true with no Group B configured")
	}
}

func TestSelectTargetDeterministicHash(t *testing.T) {
	t.Parallel()

	groupB := []int64{-300, -100, -200}
	first, setOwner, ok := SelectTarget("img-xyz", 0, 100, groupB, nil)
	if !ok || !setOwner {
		t.Fatalf("SelectTarget() = ok %v setOwner %v", ok, setOwner)
	}
	for i := 0; i < 20; i++ {
		got, _, ok := SelectTarget("img-xyz", 0, 100, groupB, nil)
		if !ok || got != first {
			t.Fatalf("SelectTarget() repeat %d = %d, want stable %d", i, got, first)
		}
	}
	// Order of the input slice must not change the outcome.
	reordered := []int64{-100, -200, -300}
	if got, _, _ := SelectTarget("img-xyz", 0, 100, reordered, nil); got != first {
		t.Fatalf("SelectTarget() with reordered input = %d, want %d", got, first)
	}
}

func TestSelectTargetNeverPicksIncompatibleOwner(t *testing.T) {
	t.Parallel()

	groupB := []int64{-100, -200, -300}
	ranges := map[int64]Range{-100: {Min: 20, Max: 50}}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		target, _, ok := SelectTarget(id, -100, 100, groupB, ranges)
		if !ok {
			t.Fatalf("SelectTarget(%q) ok = false", id)
		}
		if target == -100 {
			t.Fatalf("SelectTarget(%q) picked the incompatible owner", id)
		}
	}
}

func TestSelectTargetGoneOwnerFallsToHash(t *testing.T) {
	t.Parallel()

	groupB := []int64{-200, -300}
	target, setOwner, ok := SelectTarget("img-1", -100, 100, groupB, nil)
	if !ok {
		t.Fatalf("SelectTarget() ok = false")
	}
	if target == -100 {
		t.Fatalf("SelectTarget() picked a chat no longer in Group B")
	}
	if !setOwner {
		t.Fatalf("SelectTarget() setOwner = false after owner vanished")
	}
}
