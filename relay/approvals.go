package relay

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const keyPendingApprovals = "pending_custom_amounts"

// ApprovalKeywords is the fixed vocabulary an admin reply must consist of to
// approve a custom amount. The whole message is the keyword; longer texts
// that merely mention one are not approvals.
var ApprovalKeywords = []string{"同意", "确认"}

// IsApprovalKeyword reports whether the text is exactly an approval word.
func IsApprovalKeyword(text string) bool {
	text = strings.TrimSpace(text)
	for _, kw := range ApprovalKeywords {
		if text == kw {
			return true
		}
	}
	return false
}

// PendingApproval is a custom amount awaiting a global admin decision, keyed
// by the submission message ID. Entries never expire; an unanswered one
// keeps its image in limbo until an admin acts or resets it.
type PendingApproval struct {
	SubmissionMsgID int
	ImageID         string
	Amount          string
	SubmitterID     int64
	SubmitterName   string
	MessageText     string
	ReplyToMsgID    int
	SubmittedAt     time.Time
}

type storedApproval struct {
	ImageID       string `json:"img_id"`
	Amount        string `json:"amount"`
	SubmitterID   string `json:"responder"`
	SubmitterName string `json:"responder_name"`
	MessageText   string `json:"message_text"`
	ReplyToMsgID  string `json:"reply_to_msg_id"`
	SubmittedAt   string `json:"timestamp"`
}

// Approvals is the persisted table of pending custom-amount approvals.
type Approvals struct {
	mu      sync.Mutex
	entries map[int]PendingApproval
	store   StateStore
}

func NewApprovals(st StateStore) (*Approvals, error) {
	a := &Approvals{entries: map[int]PendingApproval{}, store: st}
	var stored map[string]storedApproval
	if _, err := st.Load(keyPendingApprovals, &stored); err != nil {
		return nil, err
	}
	for k, sa := range stored {
		msgID, ok := parseMsgKey(k)
		if !ok {
			continue
		}
		submitter, _ := parseIDKey(sa.SubmitterID)
		replyTo, _ := parseMsgKey(sa.ReplyToMsgID)
		ts, _ := time.Parse(time.RFC3339, sa.SubmittedAt)
		a.entries[msgID] = PendingApproval{
			SubmissionMsgID: msgID,
			ImageID:         sa.ImageID,
			Amount:          sa.Amount,
			SubmitterID:     submitter,
			SubmitterName:   sa.SubmitterName,
			MessageText:     sa.MessageText,
			ReplyToMsgID:    replyTo,
			SubmittedAt:     ts,
		}
	}
	return a, nil
}

// Create records a pending approval.
func (a *Approvals) Create(p PendingApproval) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[p.SubmissionMsgID] = p
	a.persistLocked()
}

// ByReply matches an admin reply against pending entries: direct submission
// ID first, then either recorded reference ID.
func (a *Approvals) ByReply(replyMsgID int) (PendingApproval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.entries[replyMsgID]; ok {
		return p, true
	}
	for _, p := range a.entries {
		if p.SubmissionMsgID == replyMsgID || p.ReplyToMsgID == replyMsgID {
			return p, true
		}
	}
	return PendingApproval{}, false
}

// ByContent matches when the replied-to text contains the literal "+amount"
// of a pending entry. Fallback for replies to the admin-notification copy.
func (a *Approvals) ByContent(text string) (PendingApproval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.entries {
		if strings.Contains(text, "+"+p.Amount) {
			return p, true
		}
	}
	return PendingApproval{}, false
}

// MostRecent returns the newest pending entry; used for approvals arriving
// in a private chat with no usable reply context.
func (a *Approvals) MostRecent() (PendingApproval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var best *PendingApproval
	for _, p := range a.entries {
		p := p
		if best == nil || p.SubmissionMsgID > best.SubmissionMsgID {
			best = &p
		}
	}
	if best == nil {
		return PendingApproval{}, false
	}
	return *best, true
}

// Remove deletes a pending entry. Idempotent.
func (a *Approvals) Remove(submissionMsgID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[submissionMsgID]; !ok {
		return
	}
	delete(a.entries, submissionMsgID)
	a.persistLocked()
}

// Pending lists all open entries, newest first.
func (a *Approvals) Pending() []PendingApproval {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PendingApproval, 0, len(a.entries))
	for _, p := range a.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmissionMsgID > out[j].SubmissionMsgID
	})
	return out
}

func (a *Approvals) persistLocked() {
	stored := make(map[string]storedApproval, len(a.entries))
	for msgID, p := range a.entries {
		stored[msgKey(msgID)] = storedApproval{
			ImageID:       p.ImageID,
			Amount:        p.Amount,
			SubmitterID:   idKey(p.SubmitterID),
			SubmitterName: p.SubmitterName,
			MessageText:   p.MessageText,
			ReplyToMsgID:  msgKey(p.ReplyToMsgID),
			SubmittedAt:   p.SubmittedAt.Format(time.RFC3339),
		}
	}
	if err := a.store.Save(keyPendingApprovals, stored); err != nil {
		zap.L().Error("persist pending approvals failed", zap.Error(err))
	}
}
