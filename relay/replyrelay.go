package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const keyReplyForwards = "group_a_reply_forwards"

// ReplyForward tracks one Group A reply that was copied into the owning
// Group B chat with a destroy button, keyed by the forwarded copy's message
// ID. Single use: relaying the Group B answer back removes the entry.
type ReplyForward struct {
	ForwardMsgID       int
	GroupAChatID       int64
	GroupAUserID       int64
	GroupAMsgID        int
	OriginalReplyMsgID int // the bot message the Group A user replied to
	GroupBChatID       int64
	CreatedAt          time.Time
}

type storedReplyForward struct {
	GroupAChatID       string `json:"group_a_chat_id"`
	GroupAUserID       string `json:"group_a_user_id"`
	GroupAMsgID        string `json:"group_a_msg_id"`
	OriginalReplyMsgID string `json:"original_reply_msg_id"`
	GroupBChatID       string `json:"group_b_chat_id"`
	CreatedAt          int64  `json:"timestamp"`
}

// ReplyRelay is the persisted side-channel correlation table for the admin
// two-way reply flow.
type ReplyRelay struct {
	mu      sync.Mutex
	entries map[int]ReplyForward
	store   StateStore
}

func NewReplyRelay(st StateStore) (*ReplyRelay, error) {
	r := &ReplyRelay{entries: map[int]ReplyForward{}, store: st}
	var stored map[string]storedReplyForward
	if _, err := st.Load(keyReplyForwards, &stored); err != nil {
		return nil, err
	}
	for k, sf := range stored {
		fwdID, ok := parseMsgKey(k)
		if !ok {
			continue
		}
		aChat, ok1 := parseIDKey(sf.GroupAChatID)
		bChat, ok2 := parseIDKey(sf.GroupBChatID)
		if !ok1 || !ok2 {
			continue
		}
		aUser, _ := parseIDKey(sf.GroupAUserID)
		aMsg, _ := parseMsgKey(sf.GroupAMsgID)
		origMsg, _ := parseMsgKey(sf.OriginalReplyMsgID)
		r.entries[fwdID] = ReplyForward{
			ForwardMsgID:       fwdID,
			GroupAChatID:       aChat,
			GroupAUserID:       aUser,
			GroupAMsgID:        aMsg,
			OriginalReplyMsgID: origMsg,
			GroupBChatID:       bChat,
			CreatedAt:          time.Unix(sf.CreatedAt, 0),
		}
	}
	return r, nil
}

// Track records a forwarded copy awaiting its Group B answer.
func (r *ReplyRelay) Track(f ReplyForward) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[f.ForwardMsgID] = f
	r.persistLocked()
}

// ByForwardMsg looks up the entry for a forwarded copy.
func (r *ReplyRelay) ByForwardMsg(msgID int) (ReplyForward, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.entries[msgID]
	return f, ok
}

// Remove drops the entry after a successful relay. Idempotent.
func (r *ReplyRelay) Remove(msgID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[msgID]; !ok {
		return
	}
	delete(r.entries, msgID)
	r.persistLocked()
}

func (r *ReplyRelay) persistLocked() {
	stored := make(map[string]storedReplyForward, len(r.entries))
	for id, f := range r.entries {
		stored[msgKey(id)] = storedReplyForward{
			GroupAChatID:       idKey(f.GroupAChatID),
			GroupAUserID:       idKey(f.GroupAUserID),
			GroupAMsgID:        msgKey(f.GroupAMsgID),
			OriginalReplyMsgID: msgKey(f.OriginalReplyMsgID),
			GroupBChatID:       idKey(f.GroupBChatID),
			CreatedAt:          f.CreatedAt.Unix(),
		}
	}
	if err := r.store.Save(keyReplyForwards, stored); err != nil {
		zap.L().Error("persist reply forwards failed", zap.Error(err))
	}
}
