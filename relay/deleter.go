package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handle cancels a scheduled deletion or countdown. Cancelling after the
// work already ran is a no-op.
type Handle struct {
	once sync.Once
	stop chan struct{}
}

func newHandle() *Handle {
	return &Handle{stop: make(chan struct{})}
}

func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.stop) })
}

// Deleter schedules delayed message deletions and visual countdowns against
// the gateway. A delete hitting an already-removed message is expected and
// swallowed.
type Deleter struct {
	gw Gateway
	// countdownStep is shortened in tests.
	countdownStep time.Duration
}

func NewDeleter(gw Gateway) *Deleter {
	return &Deleter{gw: gw, countdownStep: 10 * time.Second}
}

// DeleteAfter removes a message once the delay elapses.
func (d *Deleter) DeleteAfter(chatID int64, messageID int, delay time.Duration) *Handle {
	h := newHandle()
	timer := time.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-h.stop:
			return
		case <-timer.C:
		}
		d.delete(chatID, messageID)
	}()
	return h
}

// Countdown rewrites the message roughly every ten seconds with the
// remaining time, then deletes it at zero.
func (d *Deleter) Countdown(chatID int64, messageID int, originalText string, total time.Duration) *Handle {
	h := newHandle()
	go func() {
		deadline := time.Now().Add(total)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				d.delete(chatID, messageID)
				return
			}
			text := fmt.Sprintf("%s\n\n⏰ 消息将在 %d 秒后删除", originalText, int(remaining.Seconds()))
			if err := d.gw.EditText(chatID, messageID, text, &SendOptions{Markdown: true, DisablePreview: true}); err != nil {
				if errors.Is(err, ErrNotFound) {
					// Already gone, someone handled it manually.
					return
				}
				zap.L().Warn("countdown edit failed",
					zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
			}

			step := d.countdownStep
			if remaining < step {
				step = remaining + time.Second
			}
			timer := time.NewTimer(step)
			select {
			case <-h.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return h
}

func (d *Deleter) delete(chatID int64, messageID int) {
	err := d.gw.DeleteMessage(chatID, messageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		zap.L().Warn("scheduled delete failed",
			zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
	}
}
