package imagestore

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"group-relay-bot/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func addN(t *testing.T, s *Store, n int) []model.Image {
	t.Helper()
	out := make([]model.Image, 0, n)
	for i := 0; i < n; i++ {
		img, err := s.Add(100+i, "file", 1, "setter", "Setter")
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		out = append(out, img)
	}
	return out
}

func TestNextInQueueEmptySet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if _, ok, err := s.NextInQueue(nil); err != nil || ok {
		t.Fatalf("NextInQueue() = ok %v, err %v; want miss", ok, err)
	}
}

func TestQueueVisitsEachOpenImageOnceBeforeRepeat(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	imgs := addN(t, s, 4)

	seen := map[string]int{}
	for i := 0; i < len(imgs); i++ {
		img, ok, err := s.NextInQueue(nil)
		if err != nil || !ok {
			t.Fatalf("NextInQueue() = ok %v, err %v", ok, err)
		}
		seen[img.ID]++
	}
	for _, img := range imgs {
		if seen[img.ID] != 1 {
			t.Fatalf("image %s visited %d times in one lap, want 1", img.ID, seen[img.ID])
		}
	}

	// Next call wraps to the first image again.
	img, ok, err := s.NextInQueue(nil)
	if err != nil || !ok {
		t.Fatalf("NextInQueue() after lap = ok %v, err %v", ok, err)
	}
	if img.ID != imgs[0].ID {
		t.Fatalf("wrap pick = %s, want first image %s", img.ID, imgs[0].ID)
	}
}

func TestQueueRotatesThroughSharedPositions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for _, id := range []string{"img-a", "img-b"} {
		img := model.Image{ID: id, Number: 5, FileID: "file", Status: model.StatusOpen, QueuePosition: 5}
		if err := s.db.Create(&img).Error; err != nil {
			t.Fatalf("create image %s: %v", id, err)
		}
	}

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		img, ok, err := s.NextInQueue(nil)
		if err != nil || !ok {
			t.Fatalf("NextInQueue() call %d = ok %v, err %v", i, ok, err)
		}
		seen[img.ID]++
	}
	if seen["img-a"] != 2 || seen["img-b"] != 2 {
		t.Fatalf("rotation over shared position visited %v, want both images twice", seen)
	}
}

func TestNextInQueueSkipsClosed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	imgs := addN(t, s, 3)
	if err := s.SetStatus(imgs[0].ID, model.StatusClosed); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	img, ok, err := s.NextInQueue(nil)
	if err != nil || !ok {
		t.Fatalf("NextInQueue() = ok %v, err %v", ok, err)
	}
	if img.ID != imgs[1].ID {
		t.Fatalf("pick = %s, want first open image %s", img.ID, imgs[1].ID)
	}
}

func TestResetQueueRewindsWithoutStatusChange(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	imgs := addN(t, s, 3)

	if _, _, err := s.NextInQueue(nil); err != nil {
		t.Fatalf("NextInQueue() error = %v", err)
	}
	if _, _, err := s.NextInQueue(nil); err != nil {
		t.Fatalf("NextInQueue() error = %v", err)
	}
	if err := s.ResetQueue(); err != nil {
		t.Fatalf("ResetQueue() error = %v", err)
	}

	img, ok, err := s.NextInQueue(nil)
	if err != nil || !ok {
		t.Fatalf("NextInQueue() after reset = ok %v, err %v", ok, err)
	}
	if img.ID != imgs[0].ID {
		t.Fatalf("pick after reset = %s, want %s", img.ID, imgs[0].ID)
	}

	open, closed, err := s.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if open != 3 || closed != 0 {
		t.Fatalf("reset altered status: open %d closed %d", open, closed)
	}
}

func TestWeightedSkip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	imgs := addN(t, s, 2)
	if err := s.SetOwner(imgs[0].ID, -100); err != nil {
		t.Fatalf("SetOwner() error = %v", err)
	}
	if err := s.SetOwner(imgs[1].ID, -200); err != nil {
		t.Fatalf("SetOwner() error = %v", err)
	}

	// Draw always loses: every value >= any weight below 100.
	s.randIntn = func(int) int { return 99 }

	img, ok, err := s.NextInQueue(map[int64]int{-100: 10})
	if err != nil || !ok {
		t.Fatalf("NextInQueue() = ok %v, err %v", ok, err)
	}
	if img.ID != imgs[1].ID {
		t.Fatalf("weighted pick = %s, want unweighted image %s", img.ID, imgs[1].ID)
	}
}

func TestWeightedSkipFallsBackWhenAllSkipped(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	imgs := addN(t, s, 2)
	for _, img := range imgs {
		if err := s.SetOwner(img.ID, -100); err != nil {
			t.Fatalf("SetOwner() error = %v", err)
		}
	}
	s.randIntn = func(int) int { return 99 }

	img, ok, err := s.NextInQueue(map[int64]int{-100: 10})
	if err != nil || !ok {
		t.Fatalf("NextInQueue() = ok %v, err %v", ok, err)
	}
	if img.ID != imgs[0].ID {
		t.Fatalf("fallback pick = %s, want %s", img.ID, imgs[0].ID)
	}
}

func TestDeleteByNumberClearsOwnedAndUnowned(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a, err := s.Add(7, "file", 1, "u", "U")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.SetOwner(a.ID, -100); err != nil {
		t.Fatalf("SetOwner() error = %v", err)
	}
	if _, err := s.Add(7, "file2", 1, "u", "U"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	n, err := s.DeleteByNumber(7, -100)
	if err != nil {
		t.Fatalf("DeleteByNumber() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteByNumber() removed %d, want 2", n)
	}
}
