package imagestore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"group-relay-bot/model"
)

// NextInQueue returns the next open image in creation order, cycling back to
// the first after the last. weights maps a Group B chat to a 0-100
// percentage; an image owned by a weighted chat is skipped with probability
// 1-weight/100, retrying against the next candidate. If weighting skips
// every open image, the plain round-robin pick is used so a low-weight chat
// can never starve the queue entirely.
//
// The cursor only advances; image status is never touched here.
func (s *Store) NextInQueue(weights map[int64]int) (model.Image, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []model.Image
	if err := s.db.Where("status = ?", model.StatusOpen).
		Order("queue_position asc, id asc").Find(&open).Error; err != nil {
		return model.Image{}, false, fmt.Errorf("imagestore: open images: %w", err)
	}
	if len(open) == 0 {
		return model.Image{}, false, nil
	}

	curPos, curID, err := s.loadCursor()
	if err != nil {
		return model.Image{}, false, err
	}

	// Rotate so traversal starts at the first open image past the cursor in
	// (queue_position, id) order. Images may share a position; the id
	// tie-break keeps every sibling reachable.
	start := 0
	for i, img := range open {
		if afterCursor(img, curPos, curID) {
			start = i
			break
		}
	}

	for i := 0; i < len(open); i++ {
		candidate := open[(start+i)%len(open)]
		w, has := weights[candidate.OwnerGroupB]
		if has && candidate.OwnerGroupB != 0 {
			if w <= 0 || s.randIntn(100) >= w {
				continue
			}
		}
		if err := s.saveCursor(candidate.QueuePosition, candidate.ID); err != nil {
			return model.Image{}, false, err
		}
		return candidate, true, nil
	}

	// Every candidate lost its weighted draw; fall back to plain order.
	fallback := open[start]
	if err := s.saveCursor(fallback.QueuePosition, fallback.ID); err != nil {
		return model.Image{}, false, err
	}
	return fallback, true, nil
}

// afterCursor reports whether img sorts strictly after the cursor in the
// composite (queue_position, id) traversal order.
func afterCursor(img model.Image, curPos int64, curID string) bool {
	if img.QueuePosition != curPos {
		return img.QueuePosition > curPos
	}
	return img.ID > curID
}

// ResetQueue rewinds the traversal cursor to the start without touching any
// image's status.
func (s *Store) ResetQueue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCursor(0, "")
}

// QueueStatus summarizes queue state for the admin status command.
type QueueStatus struct {
	Total      int64
	Open       int64
	Closed     int64
	MaxPos     int64
	CursorPos  int64
	LastImage  *model.Image
	NextImage  *model.Image
	QueueOrder []model.Image
}

func (s *Store) Status() (QueueStatus, error) {
	s.mu.Lock()
	curPos, curID, err := s.loadCursor()
	s.mu.Unlock()
	if err != nil {
		return QueueStatus{}, err
	}

	var st QueueStatus
	st.CursorPos = curPos

	open, closed, err := s.CountByStatus()
	if err != nil {
		return QueueStatus{}, err
	}
	st.Open, st.Closed = open, closed
	st.Total = open + closed

	all, err := s.All()
	if err != nil {
		return QueueStatus{}, err
	}
	st.QueueOrder = all
	for i := range all {
		if all[i].QueuePosition > st.MaxPos {
			st.MaxPos = all[i].QueuePosition
		}
		if all[i].QueuePosition == curPos && all[i].ID == curID {
			img := all[i]
			st.LastImage = &img
		}
	}

	// Next open image past the cursor, wrapping.
	var wrapped *model.Image
	for i := range all {
		if all[i].Status != model.StatusOpen {
			continue
		}
		if wrapped == nil {
			img := all[i]
			wrapped = &img
		}
		if afterCursor(all[i], curPos, curID) {
			img := all[i]
			st.NextImage = &img
			break
		}
	}
	if st.NextImage == nil {
		st.NextImage = wrapped
	}
	return st, nil
}

func (s *Store) loadCursor() (int64, string, error) {
	var cur model.QueueCursor
	err := s.db.First(&cur, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("imagestore: load cursor: %w", err)
	}
	return cur.Position, cur.LastID, nil
}

func (s *Store) saveCursor(pos int64, lastID string) error {
	cur := model.QueueCursor{ID: 1, Position: pos, LastID: lastID}
	if err := s.db.Save(&cur).Error; err != nil {
		return fmt.Errorf("imagestore: save cursor: %w", err)
	}
	return nil
}
