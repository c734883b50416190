package relay

import (
	"strings"
	"testing"

	"group-relay-bot/model"
)

type fakeQueue struct {
	*fakeImages
	order []string
}

func newFakeQueue(images ...model.Image) *fakeQueue {
	f := &fakeQueue{fakeImages: newFakeImages(images...)}
	for _, img := range images {
		f.order = append(f.order, img.ID)
	}
	return f
}

func (f *fakeQueue) NextInQueue(weights map[int64]int) (model.Image, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if img := f.images[id]; img.Status == model.StatusOpen {
			return img, true, nil
		}
	}
	return model.Image{}, false, nil
}

func (f *fakeQueue) CountByStatus() (open, closed int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, img := range f.images {
		if img.Status == model.StatusOpen {
			open++
		} else {
			closed++
		}
	}
	return open, closed, nil
}

func (f *fakeQueue) SetOwner(id string, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if ok {
		img.OwnerGroupB = chatID
		f.images[id] = img
	}
	return nil
}

func (f *fakeQueue) RandomOpen() (model.Image, bool, error) {
	return f.NextInQueue(nil)
}

func (f *fakeQueue) owner(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[id].OwnerGroupB
}

const (
	testGroupA int64 = -1001111111111
	testGroupB int64 = -1002222222222
)

type dispatchFixture struct {
	gw      *fakeGateway
	queue   *fakeQueue
	corr    *Correlation
	replies *ReplyRelay
	roles   *Roles
	prefs   *Prefs
	disp    *Dispatcher
}

func newDispatchFixture(t *testing.T, images ...model.Image) *dispatchFixture {
	t.Helper()
	st := newTestStore(t)
	gw := &fakeGateway{}

	corr, err := NewCorrelation(st)
	if err != nil {
		t.Fatalf("NewCorrelation() error = %v", err)
	}
	replies, err := NewReplyRelay(st)
	if err != nil {
		t.Fatalf("NewReplyRelay() error = %v", err)
	}
	roles, err := NewRoles(st, []int64{testAdminID})
	if err != nil {
		t.Fatalf("NewRoles() error = %v", err)
	}
	prefs, err := NewPrefs(st)
	if err != nil {
		t.Fatalf("NewPrefs() error = %v", err)
	}
	roles.SetRole(testGroupA, RoleGroupA, "需方群")
	roles.SetRole(testGroupB, RoleGroupB, "供方群")

	queue := newFakeQueue(images...)
	return &dispatchFixture{
		gw:      gw,
		queue:   queue,
		corr:    corr,
		replies: replies,
		roles:   roles,
		prefs:   prefs,
		disp:    NewDispatcher(gw, queue, corr, replies, roles, prefs),
	}
}

func openImage(id string, number int) model.Image {
	return model.Image{ID: id, Number: number, Status: model.StatusOpen, FileID: "file-" + id, SetByUsername: "setter"}
}

func request(text string) Inbound {
	return Inbound{ChatID: testGroupA, MessageID: 9, UserID: 42, Username: "member", Text: text}
}

func TestRequestDispatch(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, openImage("img-1", 7))
	if err := f.disp.HandleRequest(request("100")); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}

	req, ok := f.corr.Get("img-1")
	if !ok {
		t.Fatal("no correlation entry created")
	}
	if req.GroupBChatID != testGroupB || req.Amount != "100" || req.Number != "7" {
		t.Errorf("entry = %+v", req)
	}
	if got := f.queue.status("img-1"); got != model.StatusClosed {
		t.Errorf("image status = %q, want closed", got)
	}

	prompts := f.gw.sentTo(testGroupB)
	if len(prompts) != 1 {
		t.Fatalf("prompts to group B = %d, want 1", len(prompts))
	}
	want := "💰 金额：100\n🔢 群：7\n\n❌ 如果会员10分钟没进群请回复0"
	if prompts[0].Text != want {
		t.Errorf("prompt = %q, want %q", prompts[0].Text, want)
	}
}

func TestRequestOutOfBounds(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, openImage("img-1", 7))
	for _, text := range []string{"10", "6000", "+100", "hello"} {
		if err := f.disp.HandleRequest(request(text)); err != nil {
			t.Fatalf("HandleRequest(%q) error = %v", text, err)
		}
	}
	if f.corr.Len() != 0 {
		t.Errorf("correlation entries = %d, want 0", f.corr.Len())
	}
	if sent := f.gw.sentTo(testGroupB); len(sent) != 0 {
		t.Errorf("prompts to group B = %d, want 0", len(sent))
	}
}

func TestRequestAllClosedStaysSilent(t *testing.T) {
	t.Parallel()

	img := openImage("img-1", 7)
	img.Status = model.StatusClosed
	f := newDispatchFixture(t, img)

	if err := f.disp.HandleRequest(request("100")); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}
	if sent := f.gw.sentTo(testGroupA); len(sent) != 0 {
		t.Errorf("replies to group A = %d, want 0", len(sent))
	}
}

func TestRequestRangeOverridesStaleOwner(t *testing.T) {
	t.Parallel()

	other := testGroupB - 1
	img := openImage("img-1", 7)
	img.OwnerGroupB = other
	f := newDispatchFixture(t, img)
	f.roles.SetRole(other, RoleGroupB, "小额群")
	f.prefs.SetRange(other, 20, 80)

	if err := f.disp.HandleRequest(request("500")); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}

	req, ok := f.corr.Get("img-1")
	if !ok {
		t.Fatal("no correlation entry created")
	}
	if req.GroupBChatID != testGroupB {
		t.Errorf("routed to %d, want %d", req.GroupBChatID, testGroupB)
	}
	if got := f.queue.owner("img-1"); got != testGroupB {
		t.Errorf("owner = %d, want %d", got, testGroupB)
	}
}

func TestProxyRequestExactTriggerOnly(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, openImage("img-1", 7))

	// Ordinary admin chatter containing 群 must not dispatch anything.
	for _, text := range []string{"进群了", "这个群不对", "群B没反应"} {
		in := Inbound{ChatID: testGroupA, MessageID: 11, UserID: testAdminID, Text: text, ReplyTo: 9, ReplyToText: "100"}
		if err := f.disp.HandleProxyRequest(in); err != nil {
			t.Fatalf("HandleProxyRequest(%q) error = %v", text, err)
		}
	}
	if f.corr.Len() != 0 {
		t.Fatalf("correlation entries = %d, want 0", f.corr.Len())
	}
	if sent := f.gw.sentTo(testGroupB); len(sent) != 0 {
		t.Fatalf("messages to group B = %d, want 0", len(sent))
	}

	in := Inbound{ChatID: testGroupA, MessageID: 12, UserID: testAdminID, Text: "群", ReplyTo: 9, ReplyToText: "100"}
	if err := f.disp.HandleProxyRequest(in); err != nil {
		t.Fatalf("HandleProxyRequest() error = %v", err)
	}
	req, ok := f.corr.Get("img-1")
	if !ok {
		t.Fatal("no correlation entry created for exact trigger")
	}
	if req.Amount != "100" || req.OriginalMessageID != 9 {
		t.Errorf("entry = %+v", req)
	}
}

func TestClickModePrompt(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, openImage("img-1", 7))
	f.prefs.ToggleClickMode(testGroupB)

	if err := f.disp.HandleRequest(request("100")); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}

	prompts := f.gw.sentTo(testGroupB)
	if len(prompts) != 1 {
		t.Fatalf("prompts to group B = %d, want 1", len(prompts))
	}
	if !strings.Contains(prompts[0].Text, "📍") {
		t.Errorf("click prompt missing origin link: %q", prompts[0].Text)
	}
	req, _ := f.corr.Get("img-1")
	if !req.ClickMode {
		t.Error("correlation entry not marked click mode")
	}
}

func TestForwardReplyTracked(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, openImage("img-1", 7))
	if err := f.disp.HandleRequest(request("100")); err != nil {
		t.Fatalf("HandleRequest() error = %v", err)
	}
	req, _ := f.corr.Get("img-1")

	in := Inbound{ChatID: testGroupA, MessageID: 11, UserID: 42, Username: "member", ReplyTo: req.GroupAMsgID}
	if err := f.disp.ForwardReply(in, "怎么还没进"); err != nil {
		t.Fatalf("ForwardReply() error = %v", err)
	}

	sent := f.gw.sentTo(testGroupB)
	if len(sent) != 2 {
		t.Fatalf("messages to group B = %d, want 2", len(sent))
	}
	if !strings.Contains(sent[1].Text, "内容- 怎么还没进") || !strings.Contains(sent[1].Text, "群：7") {
		t.Errorf("forwarded reply = %q", sent[1].Text)
	}
	if _, ok := f.replies.ByForwardMsg(f.gw.nextID); !ok {
		t.Error("forwarded reply not tracked")
	}
}

func TestReleaseClaimsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, closedImage("img-1"))
	req := sampleRequest("img-1", 100)
	req.ClickMode = true
	if err := f.corr.Create(req); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !f.proc.Release("img-1") {
		t.Fatal("first release not handled")
	}
	if f.proc.Release("img-1") {
		t.Error("second release handled, want no-op")
	}
	if got := f.images.status("img-1"); got != model.StatusOpen {
		t.Errorf("image status = %q, want open", got)
	}
	relayed := f.gw.sentTo(req.GroupAChatID)
	if len(relayed) != 1 || relayed[0].Text != "+"+req.Amount {
		t.Errorf("relayed = %+v, want single +%s", relayed, req.Amount)
	}
}
