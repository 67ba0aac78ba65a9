package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/core/telegram/sender"
	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/flow"
	"github.com/m3rciful/fleetbot/internal/report"
	"github.com/m3rciful/fleetbot/internal/runner"
	"github.com/m3rciful/fleetbot/internal/selector"
)

const operator int64 = 7

type call struct {
	chatID int64
	msgID  int
	text   string
	markup *tele.ReplyMarkup
}

type fakeAPI struct {
	mu      sync.Mutex
	nextID  int
	sent    []call
	edits   []call
	deleted []int
	editErr error
	files   map[string][]byte
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat := to.(*tele.Chat)
	f.nextID++
	c := call{chatID: chat.ID, msgID: f.nextID, text: what.(string)}
	for _, o := range opts {
		if m, ok := o.(*tele.ReplyMarkup); ok {
			c.markup = m
		}
	}
	f.sent = append(f.sent, c)
	return &tele.Message{ID: f.nextID, Chat: chat, Text: c.text}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	m := msg.(*tele.Message)
	c := call{chatID: m.Chat.ID, msgID: m.ID, text: what.(string)}
	for _, o := range opts {
		if mk, ok := o.(*tele.ReplyMarkup); ok {
			c.markup = mk
		}
	}
	f.edits = append(f.edits, c)
	return &tele.Message{ID: m.ID, Chat: m.Chat, Text: c.text}, nil
}

func (f *fakeAPI) Delete(msg tele.Editable) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg.(*tele.Message).ID)
	return nil
}

func (f *fakeAPI) File(file *tele.File) (io.ReadCloser, error) {
	data, ok := f.files[file.FileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type memAccounts struct {
	mu       sync.Mutex
	accounts []fleet.Account
}

func newMemAccounts(n int) *memAccounts {
	m := &memAccounts{}
	for i := 0; i < n; i++ {
		m.accounts = append(m.accounts, fleet.Account{
			ID:      int64(i + 1),
			OwnerID: operator,
			Phone:   fmt.Sprintf("+1555000%04d", i),
			Name:    fmt.Sprintf("Acc %d", i+1),
			Status:  fleet.StatusActive,
		})
	}
	return m
}

func (m *memAccounts) Find(_ context.Context, f fleet.Filter) ([]fleet.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fleet.Account
	for _, a := range m.accounts {
		if f.OwnerID != 0 && a.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memAccounts) Insert(_ context.Context, a *fleet.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.accounts) + 1)
	m.accounts = append(m.accounts, *a)
	return nil
}

func (m *memAccounts) UpdateOne(context.Context, int64, fleet.Patch) error { return nil }

func (m *memAccounts) DeleteOne(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.accounts {
		if a.ID == id {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return nil
		}
	}
	return fleet.ErrNotFound
}

func (m *memAccounts) CountBy(ctx context.Context, f fleet.Filter) (int, error) {
	accs, _ := m.Find(ctx, f)
	return len(accs), nil
}

func (m *memAccounts) CountByStatus(ctx context.Context, ownerID int64) (map[fleet.Status]int, error) {
	accs, _ := m.Find(ctx, fleet.Filter{OwnerID: ownerID})
	out := map[fleet.Status]int{}
	for _, a := range accs {
		out[a.Status]++
	}
	return out, nil
}

// syncRuns finishes every run before Start returns.
type syncRuns struct {
	err     error
	started []fleet.Plan
}

func (r *syncRuns) Start(_ context.Context, plan fleet.Plan, hooks runner.Hooks) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.started = append(r.started, plan)
	total := len(plan.Accounts)
	if hooks.OnProgress != nil {
		hooks.OnProgress("run-1", runner.Counters{Total: total, Processed: 1, Success: 1})
	}
	if hooks.OnFinish != nil {
		hooks.OnFinish(runner.Report{
			RunID:      "run-1",
			Action:     plan.Kind(),
			Counters:   runner.Counters{Total: total, Processed: total, Success: total},
			StartedAt:  time.Unix(0, 0),
			FinishedAt: time.Unix(5, 0),
		})
	}
	return "run-1", nil
}

func (r *syncRuns) Stop(int64) bool                       { return false }
func (r *syncRuns) Active(int64) (fleet.ActionKind, bool) { return "", false }

type memAudit struct{ runs []string }

func (a *memAudit) Record(_ context.Context, _ int64, rep runner.Report) error {
	a.runs = append(a.runs, rep.RunID)
	return nil
}

func newTestBot(n int) (*Bot, *fakeAPI, *memAccounts, *syncRuns, *memAudit) {
	api := &fakeAPI{files: map[string][]byte{}}
	accounts := newMemAccounts(n)
	runs := &syncRuns{}
	audit := &memAudit{}
	flows := flow.New(accounts, nil, flow.Options{})
	b := New(flows, runs, accounts, audit, Options{})
	b.Attach(NewFrontEnd(api, nil), api)
	return b, api, accounts, runs, audit
}

func TestFrontEndEditsLastPrompt(t *testing.T) {
	api := &fakeAPI{}
	f := NewFrontEnd(api, nil)
	ctx := context.Background()

	if err := f.Prompt(ctx, operator, flow.Prompt{Text: "pick"}); err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if err := f.Prompt(ctx, operator, flow.Prompt{Text: "pick again", Edit: true}); err != nil {
		t.Fatalf("edit prompt: %v", err)
	}
	if len(api.sent) != 1 || len(api.edits) != 1 {
		t.Fatalf("expected 1 send and 1 edit, got %d and %d", len(api.sent), len(api.edits))
	}
	if api.edits[0].msgID != api.sent[0].msgID {
		t.Fatalf("edit targeted message %d, want %d", api.edits[0].msgID, api.sent[0].msgID)
	}

	msg, err := f.Close(ctx, operator, "done", nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if msg.ID != api.sent[0].msgID || len(api.edits) != 2 {
		t.Fatalf("close should edit the prompt, got message %d with %d edits", msg.ID, len(api.edits))
	}

	// The prompt is forgotten after Close, so an edit becomes a new message.
	if err := f.Prompt(ctx, operator, flow.Prompt{Text: "next", Edit: true}); err != nil {
		t.Fatalf("prompt after close: %v", err)
	}
	if len(api.sent) != 2 {
		t.Fatalf("expected a new prompt after close, sent %d", len(api.sent))
	}
}

func TestFrontEndNotModifiedIsSuccess(t *testing.T) {
	api := &fakeAPI{}
	f := NewFrontEnd(api, nil)
	ctx := context.Background()
	if err := f.Prompt(ctx, operator, flow.Prompt{Text: "pick"}); err != nil {
		t.Fatalf("prompt: %v", err)
	}
	api.editErr = errors.New("telegram: Bad Request: message is not modified (400)")
	if err := f.EditLastPrompt(ctx, operator, flow.Prompt{Text: "pick"}); err != nil {
		t.Fatalf("not modified should be ignored, got %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("not modified must not resend, sent %d", len(api.sent))
	}

	api.editErr = errors.New("telegram: Bad Request: message to edit not found (400)")
	if err := f.EditLastPrompt(ctx, operator, flow.Prompt{Text: "pick"}); err != nil {
		t.Fatalf("fallback send: %v", err)
	}
	if len(api.sent) != 2 {
		t.Fatalf("failed edit should fall back to send, sent %d", len(api.sent))
	}
}

func TestFrontEndDeleteSkipsZeroID(t *testing.T) {
	api := &fakeAPI{}
	f := NewFrontEnd(api, nil)
	f.Delete(context.Background(), operator, 0)
	f.Delete(context.Background(), operator, 12)
	if len(api.deleted) != 1 || api.deleted[0] != 12 {
		t.Fatalf("unexpected deletes: %v", api.deleted)
	}
}

func TestDownload(t *testing.T) {
	api := &fakeAPI{files: map[string][]byte{"doc": []byte("hello")}}

	media, err := download(api, &tele.Message{Text: "plain"}, DefaultMaxMedia)
	if err != nil || media != nil {
		t.Fatalf("text message: media=%v err=%v", media, err)
	}

	msg := &tele.Message{Document: &tele.Document{
		File:     tele.File{FileID: "doc", FileSize: 5},
		FileName: "notes.txt",
		MIME:     "text/plain",
	}}
	media, err = download(api, msg, DefaultMaxMedia)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if media.Kind != fleet.MediaDocument || media.FileName != "notes.txt" || string(media.Data) != "hello" {
		t.Fatalf("unexpected media: %+v", media)
	}

	big := &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "doc", FileSize: 2 << 20}}}
	_, err = download(api, big, 1<<20)
	if _, ok := fleet.IsValidation(err); !ok {
		t.Fatalf("expected validation error for a large file, got %v", err)
	}

	// Size is also enforced on the bytes actually read.
	short := &tele.Message{Document: &tele.Document{File: tele.File{FileID: "doc"}}}
	_, err = download(api, short, 3)
	if _, ok := fleet.IsValidation(err); !ok {
		t.Fatalf("expected validation error for unreported size, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want selector.Policy
		ok   bool
	}{
		{"one", selector.Single, true},
		{" ALL ", selector.All, true},
		{"several", selector.Multiple, true},
		{"many", selector.Multiple, true},
		{"", 0, false},
		{"everyone", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePolicy(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Fatalf("parsePolicy(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err   error
		ok    bool
		empty bool
	}{
		{fleet.Invalid("bio", "too long"), true, false},
		{fmt.Errorf("wrap: %w", fleet.ErrRunInProgress), true, false},
		{fleet.ErrSessionExpired, true, true},
		{fleet.ErrNoAccounts, true, false},
		{flow.ErrUnknownFlow, true, false},
		{errors.New("connection reset"), false, true},
	}
	for _, tt := range tests {
		text, ok := userMessage(tt.err)
		if ok != tt.ok || (text == "") != tt.empty {
			t.Fatalf("userMessage(%v) = %q, %v", tt.err, text, ok)
		}
	}
}

func TestLaunchReportsAndRecords(t *testing.T) {
	b, api, accounts, runs, audit := newTestBot(2)
	ctx := context.Background()
	accs, _ := accounts.Find(ctx, fleet.Filter{OwnerID: operator})
	plan := fleet.NewPlan(operator, accs, fleet.CheckHealth{}, 1, time.Now())

	if err := b.apply(ctx, operator, operator, flow.Result{Handled: true, Plan: &plan}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(runs.started) != 1 {
		t.Fatalf("expected one run, got %d", len(runs.started))
	}
	if len(api.sent) != 2 {
		t.Fatalf("expected progress and final report, sent %d", len(api.sent))
	}
	if api.sent[0].markup == nil {
		t.Fatal("progress message should carry a stop button")
	}
	if !strings.Contains(api.sent[1].text, "finished") {
		t.Fatalf("final report: %q", api.sent[1].text)
	}
	if n := len(api.edits); n < 2 || api.edits[n-1].markup != nil {
		t.Fatalf("final progress edit should drop the stop button, edits=%d", n)
	}
	if len(audit.runs) != 1 || audit.runs[0] != "run-1" {
		t.Fatalf("audit: %v", audit.runs)
	}
}

func TestLaunchBusy(t *testing.T) {
	b, api, accounts, runs, audit := newTestBot(1)
	runs.err = fleet.ErrRunInProgress
	ctx := context.Background()
	accs, _ := accounts.Find(ctx, fleet.Filter{})
	plan := fleet.NewPlan(operator, accs, fleet.CheckHealth{}, 1, time.Now())

	if err := b.launch(ctx, operator, plan); err != nil {
		t.Fatalf("busy run should be shown, not returned: %v", err)
	}
	if len(api.edits) != 1 || !strings.Contains(api.edits[0].text, "still running") {
		t.Fatalf("expected busy notice, edits=%+v", api.edits)
	}
	if len(audit.runs) != 0 {
		t.Fatalf("nothing should be audited: %v", audit.runs)
	}
}

func TestRemoveDeletesAccounts(t *testing.T) {
	b, api, accounts, _, _ := newTestBot(3)
	ctx := context.Background()
	accs, _ := accounts.Find(ctx, fleet.Filter{})
	gone := fleet.Account{ID: 99, Name: "Gone"}

	res := flow.Result{Handled: true, Remove: []fleet.Account{accs[0], accs[1], gone}}
	if err := b.apply(ctx, operator, operator, res); err != nil {
		t.Fatalf("apply: %v", err)
	}
	left, _ := accounts.Find(ctx, fleet.Filter{})
	if len(left) != 1 || left[0].ID != accs[2].ID {
		t.Fatalf("unexpected accounts left: %+v", left)
	}
	if len(api.sent) != 1 || !strings.Contains(api.sent[0].text, "Removed 3") {
		t.Fatalf("summary: %+v", api.sent)
	}
}

func TestCheckOffersToRemoveInactive(t *testing.T) {
	b, api, accounts, _, _ := newTestBot(3)
	ctx := context.Background()
	accounts.accounts[1].Status = fleet.StatusInactive
	accs, _ := accounts.Find(ctx, fleet.Filter{OwnerID: operator})
	plan := fleet.NewPlan(operator, accs, fleet.CheckHealth{}, 1, time.Now())

	if err := b.launch(ctx, operator, plan); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if len(api.sent) != 3 {
		t.Fatalf("expected progress, report and removal offer, sent %d", len(api.sent))
	}
	offer := api.sent[2]
	if offer.markup == nil || !strings.Contains(offer.text, "Acc 2") {
		t.Fatalf("offer: %+v", offer)
	}

	if err := b.purge(ctx, operator, operator); err != nil {
		t.Fatalf("purge: %v", err)
	}
	left, _ := accounts.Find(ctx, fleet.Filter{OwnerID: operator})
	if len(left) != 2 {
		t.Fatalf("expected two accounts left, got %+v", left)
	}
	for _, a := range left {
		if a.Status == fleet.StatusInactive {
			t.Fatalf("inactive account kept: %+v", a)
		}
	}
	last := api.edits[len(api.edits)-1]
	if last.msgID != offer.msgID || !strings.Contains(last.text, "Removed 1") {
		t.Fatalf("purge should close the offer, got %+v", last)
	}
}

func TestPurgeWithoutInactive(t *testing.T) {
	b, api, _, _, _ := newTestBot(2)
	ctx := context.Background()
	if err := b.purge(ctx, operator, operator); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(api.sent) != 1 || api.sent[0].text != textNoInactive {
		t.Fatalf("sent: %+v", api.sent)
	}
}

func TestNotifyExpired(t *testing.T) {
	b, api, _, _, _ := newTestBot(1)
	b.NotifyExpired(operator, flow.KindBio)
	if len(api.sent) != 1 {
		t.Fatalf("expected one notice, sent %d", len(api.sent))
	}
	if !strings.Contains(api.sent[0].text, "expired") {
		t.Fatalf("notice: %q", api.sent[0].text)
	}
}

func TestDeliverSplitsLongReports(t *testing.T) {
	api := &fakeAPI{}
	disp := sender.NewDispatcher(sender.Options{Workers: 2})
	f := NewFrontEnd(api, disp)
	text := strings.Repeat("line of the report\n", 300)
	if err := f.Deliver(context.Background(), operator, text); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	disp.Close()
	if len(api.sent) < 2 {
		t.Fatalf("expected the report in several messages, got %d", len(api.sent))
	}
	var total int
	for _, c := range api.sent {
		if len([]rune(c.text)) > report.MessageLimit {
			t.Fatalf("message over limit: %d runes", len([]rune(c.text)))
		}
		total += len(c.text) + 1
	}
	if total != len(text) {
		t.Fatalf("report lost text: %d of %d bytes", total, len(text))
	}
}
