// Package imagestore persists images in sqlite via gorm and implements the
// creation-order queue used to pick which image answers the next request.
package imagestore

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"group-relay-bot/model"
)

type Store struct {
	db *gorm.DB

	mu sync.Mutex
	// randIntn is swapped out by tests for deterministic weighted draws.
	randIntn func(int) int
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.Image{}, &model.QueueCursor{}); err != nil {
		return nil, fmt.Errorf("imagestore: migrate: %w", err)
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{db: db, randIntn: src.Intn}, nil
}

// Add creates a new open image with the next queue position.
func (s *Store) Add(number int, fileID string, setByID int64, setByUsername, setByDisplay string) (model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxPos int64
	row := s.db.Model(&model.Image{}).Select("COALESCE(MAX(queue_position), 0)").Row()
	if err := row.Scan(&maxPos); err != nil {
		return model.Image{}, fmt.Errorf("imagestore: max position: %w", err)
	}

	img := model.Image{
		ID:               uuid.NewString(),
		Number:           number,
		FileID:           fileID,
		Status:           model.StatusOpen,
		QueuePosition:    maxPos + 1,
		SetByUserID:      setByID,
		SetByUsername:    setByUsername,
		SetByDisplayName: setByDisplay,
	}
	if err := s.db.Create(&img).Error; err != nil {
		return model.Image{}, fmt.Errorf("imagestore: create: %w", err)
	}
	return img, nil
}

// Get returns the image with the given ID. ok is false when absent.
func (s *Store) Get(id string) (model.Image, bool, error) {
	var img model.Image
	err := s.db.First(&img, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Image{}, false, nil
	}
	if err != nil {
		return model.Image{}, false, fmt.Errorf("imagestore: get %s: %w", id, err)
	}
	return img, true, nil
}

func (s *Store) SetStatus(id, status string) error {
	return s.db.Model(&model.Image{}).Where("id = ?", id).
		Update("status", status).Error
}

// SetOwner records the sticky Group B ownership chosen by the selector.
func (s *Store) SetOwner(id string, chatID int64) error {
	return s.db.Model(&model.Image{}).Where("id = ?", id).
		Update("owner_group_b", chatID).Error
}

func (s *Store) All() ([]model.Image, error) {
	var images []model.Image
	if err := s.db.Order("queue_position asc, id asc").Find(&images).Error; err != nil {
		return nil, fmt.Errorf("imagestore: list: %w", err)
	}
	return images, nil
}

// CountByStatus returns the open and closed image counts.
func (s *Store) CountByStatus() (open, closed int64, err error) {
	if err = s.db.Model(&model.Image{}).Where("status = ?", model.StatusOpen).Count(&open).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.Model(&model.Image{}).Where("status = ?", model.StatusClosed).Count(&closed).Error; err != nil {
		return 0, 0, err
	}
	return open, closed, nil
}

// DeleteByNumber removes every image with the given display number owned by
// ownerChat (or with no owner yet). Returns the number of rows removed.
func (s *Store) DeleteByNumber(number int, ownerChat int64) (int64, error) {
	res := s.db.Where("number = ? AND (owner_group_b = ? OR owner_group_b = 0)", number, ownerChat).
		Delete(&model.Image{})
	return res.RowsAffected, res.Error
}

// ClearByOwner removes every image owned by the given Group B chat.
func (s *Store) ClearByOwner(ownerChat int64) (int64, error) {
	res := s.db.Where("owner_group_b = ?", ownerChat).Delete(&model.Image{})
	return res.RowsAffected, res.Error
}

// RandomOpen picks any open image; used by the admin proxy flow where queue
// order does not matter.
func (s *Store) RandomOpen() (model.Image, bool, error) {
	var images []model.Image
	if err := s.db.Where("status = ?", model.StatusOpen).Find(&images).Error; err != nil {
		return model.Image{}, false, err
	}
	if len(images) == 0 {
		return model.Image{}, false, nil
	}
	s.mu.Lock()
	idx := s.randIntn(len(images))
	s.mu.Unlock()
	return images[idx], true, nil
}
