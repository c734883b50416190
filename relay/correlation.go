package relay

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrDuplicateAssignment means an image already has an in-flight request.
var ErrDuplicateAssignment = errors.New("image already has a forwarded request")

const keyForwardedRequests = "forwarded_msgs"

// ForwardedRequest tracks one request forwarded from Group A to Group B,
// keyed by image ID. At most one per image at a time.
type ForwardedRequest struct {
	ImageID           string
	GroupAChatID      int64
	GroupAMsgID       int
	GroupBChatID      int64
	GroupBMsgID       int
	Amount            string // original numeric string from Group A
	Number            string // image display number at assignment time
	RequestingUserID  int64
	OriginalMessageID int // the user's own message in Group A
	ClickMode         bool
}

// ReplyTarget is the Group A message a relayed response should reply to:
// the requester's original message when known, else the bot's photo message.
func (r ForwardedRequest) ReplyTarget() int {
	if r.OriginalMessageID != 0 {
		return r.OriginalMessageID
	}
	return r.GroupAMsgID
}

type storedRequest struct {
	ImageID           string `json:"image_id"`
	GroupAChatID      string `json:"group_a_chat_id"`
	GroupAMsgID       string `json:"group_a_msg_id"`
	GroupBChatID      string `json:"group_b_chat_id"`
	GroupBMsgID       string `json:"group_b_msg_id"`
	Amount            string `json:"amount"`
	Number            string `json:"number"`
	RequestingUserID  string `json:"original_user_id"`
	OriginalMessageID string `json:"original_message_id"`
	ClickMode         bool   `json:"is_click_mode"`
}

// Correlation is the persisted table of in-flight requests. Every mutation
// writes through to the store: losing an entry on crash would leave its
// image closed forever. Cancellation handles for scheduled deletions ride
// along in memory and are cancelled when the entry resolves.
type Correlation struct {
	mu      sync.Mutex
	entries map[string]ForwardedRequest
	cancels map[string]*Handle
	store   StateStore
}

func NewCorrelation(st StateStore) (*Correlation, error) {
	c := &Correlation{
		entries: map[string]ForwardedRequest{},
		cancels: map[string]*Handle{},
		store:   st,
	}
	var stored map[string]storedRequest
	if _, err := st.Load(keyForwardedRequests, &stored); err != nil {
		return nil, err
	}
	for imageID, sr := range stored {
		req, ok := decodeRequest(imageID, sr)
		if !ok {
			zap.L().Warn("dropping undecodable forwarded request", zap.String("image_id", imageID))
			continue
		}
		c.entries[imageID] = req
	}
	return c, nil
}

func decodeRequest(imageID string, sr storedRequest) (ForwardedRequest, bool) {
	aChat, ok1 := parseIDKey(sr.GroupAChatID)
	aMsg, ok2 := parseMsgKey(sr.GroupAMsgID)
	bChat, ok3 := parseIDKey(sr.GroupBChatID)
	bMsg, ok4 := parseMsgKey(sr.GroupBMsgID)
	if !(ok1 && ok2 && ok3 && ok4) {
		return ForwardedRequest{}, false
	}
	user, _ := parseIDKey(sr.RequestingUserID)
	orig, _ := parseMsgKey(sr.OriginalMessageID)
	return ForwardedRequest{
		ImageID:           imageID,
		GroupAChatID:      aChat,
		GroupAMsgID:       aMsg,
		GroupBChatID:      bChat,
		GroupBMsgID:       bMsg,
		Amount:            sr.Amount,
		Number:            sr.Number,
		RequestingUserID:  user,
		OriginalMessageID: orig,
		ClickMode:         sr.ClickMode,
	}, true
}

func encodeRequest(r ForwardedRequest) storedRequest {
	return storedRequest{
		ImageID:           r.ImageID,
		GroupAChatID:      idKey(r.GroupAChatID),
		GroupAMsgID:       msgKey(r.GroupAMsgID),
		GroupBChatID:      idKey(r.GroupBChatID),
		GroupBMsgID:       msgKey(r.GroupBMsgID),
		Amount:            r.Amount,
		Number:            r.Number,
		RequestingUserID:  idKey(r.RequestingUserID),
		OriginalMessageID: msgKey(r.OriginalMessageID),
		ClickMode:         r.ClickMode,
	}
}

// Create registers a new in-flight request.
func (c *Correlation) Create(req ForwardedRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[req.ImageID]; exists {
		return ErrDuplicateAssignment
	}
	c.entries[req.ImageID] = req
	c.persistLocked()
	return nil
}

// Get returns the entry for an image.
func (c *Correlation) Get(imageID string) (ForwardedRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.entries[imageID]
	return req, ok
}

// ByGroupBMessage finds the request whose live Group B prompt is msgID.
func (c *Correlation) ByGroupBMessage(msgID int) (ForwardedRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, req := range c.entries {
		if req.GroupBMsgID == msgID {
			return req, true
		}
	}
	return ForwardedRequest{}, false
}

// ByGroupAMessage finds the request whose bot message in Group A is msgID.
func (c *Correlation) ByGroupAMessage(chatID int64, msgID int) (ForwardedRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, req := range c.entries {
		if req.GroupAChatID == chatID && req.GroupAMsgID == msgID {
			return req, true
		}
	}
	return ForwardedRequest{}, false
}

// ByAmountOrNumber is the fallback match for non-reply Group B messages:
// amount equality first, then display-number equality. Ties go to the most
// recently created entry, using Group B message ID recency as the order
// proxy (the table has no timestamp field).
func (c *Correlation) ByAmountOrNumber(amount, number string) (ForwardedRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var byAmount, byNumber *ForwardedRequest
	for _, req := range c.entries {
		req := req
		if req.Amount == amount && (byAmount == nil || req.GroupBMsgID > byAmount.GroupBMsgID) {
			byAmount = &req
		}
		if req.Number == number && (byNumber == nil || req.GroupBMsgID > byNumber.GroupBMsgID) {
			byNumber = &req
		}
	}
	if byAmount != nil {
		return *byAmount, true
	}
	if byNumber != nil {
		return *byNumber, true
	}
	return ForwardedRequest{}, false
}

// MostRecent returns the newest entry by Group B message ID.
func (c *Correlation) MostRecent() (ForwardedRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *ForwardedRequest
	for _, req := range c.entries {
		req := req
		if best == nil || req.GroupBMsgID > best.GroupBMsgID {
			best = &req
		}
	}
	if best == nil {
		return ForwardedRequest{}, false
	}
	return *best, true
}

// Resolve atomically claims and removes the entry for an image. The second
// of two racing resolvers gets ok=false and must no-op; this is what keeps
// duplicate replies from producing duplicate relays. Any pending deletion
// handle is cancelled.
func (c *Correlation) Resolve(imageID string) (ForwardedRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.entries[imageID]
	if !ok {
		return ForwardedRequest{}, false
	}
	delete(c.entries, imageID)
	if h := c.cancels[imageID]; h != nil {
		h.Cancel()
		delete(c.cancels, imageID)
	}
	c.persistLocked()
	return req, true
}

// Remove deletes the entry without claiming it. Idempotent.
func (c *Correlation) Remove(imageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[imageID]; !ok {
		return
	}
	delete(c.entries, imageID)
	if h := c.cancels[imageID]; h != nil {
		h.Cancel()
		delete(c.cancels, imageID)
	}
	c.persistLocked()
}

// AttachCancel stores the cancellation handle for a deletion scheduled on
// this entry's Group B prompt.
func (c *Correlation) AttachCancel(imageID string, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev := c.cancels[imageID]; prev != nil {
		prev.Cancel()
	}
	c.cancels[imageID] = h
}

// RemoveByGroupB purges every entry routed to the given Group B chat (used
// by the whole-chat image wipe). Returns the removed image IDs.
func (c *Correlation) RemoveByGroupB(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for id, req := range c.entries {
		if req.GroupBChatID == chatID {
			removed = append(removed, id)
			delete(c.entries, id)
			if h := c.cancels[id]; h != nil {
				h.Cancel()
				delete(c.cancels, id)
			}
		}
	}
	if len(removed) > 0 {
		c.persistLocked()
	}
	return removed
}

// RemoveByNumber purges entries for one display number in one chat.
func (c *Correlation) RemoveByNumber(number string, chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for id, req := range c.entries {
		if req.Number == number && req.GroupBChatID == chatID {
			removed = append(removed, id)
			delete(c.entries, id)
			if h := c.cancels[id]; h != nil {
				h.Cancel()
				delete(c.cancels, id)
			}
		}
	}
	if len(removed) > 0 {
		c.persistLocked()
	}
	return removed
}

// Len reports the number of in-flight requests.
func (c *Correlation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Correlation) persistLocked() {
	stored := make(map[string]storedRequest, len(c.entries))
	for id, req := range c.entries {
		stored[id] = encodeRequest(req)
	}
	if err := c.store.Save(keyForwardedRequests, stored); err != nil {
		zap.L().Error("persist forwarded requests failed", zap.Error(err))
	}
}
