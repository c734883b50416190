package model

import (
	"time"
)

// Image status values.
const (
	StatusOpen   = "open"   // available to match a new request
	StatusClosed = "closed" // currently assigned to an in-flight request
)

// Image is one assignable slot: a photo and a display number. Status flips
// between open and closed on every request/response cycle. QueuePosition is
// assigned once at creation and never reused.
type Image struct {
	ID            string `gorm:"primaryKey"`
	Number        int    `gorm:"index"`
	FileID        string
	Status        string `gorm:"index;default:open"`
	QueuePosition int64  `gorm:"index"`

	// Sticky ownership: the supply-side chat that handles this image.
	// Zero means unset; the selector fills it on first assignment.
	OwnerGroupB int64 `gorm:"index"`

	// Who set the image, used for reply-relay authorization and mentions.
	SetByUserID      int64
	SetByUsername    string
	SetByDisplayName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueCursor remembers the last dispatched image so round-robin traversal
// survives restarts. Position alone is ambiguous when images share a queue
// position, so the image ID is kept as the tie-break. Single row, ID 1.
type QueueCursor struct {
	ID       uint `gorm:"primaryKey"`
	Position int64
	LastID   string
}

// ArchivedBill is a rendered daily bill kept for historical export. Records
// holds the day's transactions as JSON so per-operator reports can still be
// computed after the live book rolls over.
type ArchivedBill struct {
	ID        uint   `gorm:"primaryKey"`
	ChatID    int64  `gorm:"index"`
	Date      string `gorm:"index"` // YYYY-MM-DD
	Content   string
	Records   string
	CreatedAt time.Time
}
