package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/fleetbot/internal/classify"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

type fakeSession struct {
	p  *fakeProvider
	id int64
}

func (s *fakeSession) call(op string) error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.calls = append(s.p.calls, fmt.Sprintf("%d:%s", s.id, op))
	if s.p.onCall != nil {
		return s.p.onCall(s.id, op)
	}
	return nil
}

func (s *fakeSession) Self(context.Context) (fleet.Profile, error) {
	return fleet.Profile{FirstName: "Checked", Username: "checked"}, s.call("self")
}
func (s *fakeSession) UpdateProfile(_ context.Context, u fleet.ProfileUpdate) error {
	if u.FirstName != nil {
		return s.call("name=" + *u.FirstName)
	}
	return s.call("profile")
}
func (s *fakeSession) SetUsername(_ context.Context, u string) error { return s.call("username=" + u) }
func (s *fakeSession) SetPhoto(context.Context, fleet.Media) error   { return s.call("photo") }
func (s *fakeSession) JoinChat(context.Context, fleet.ChatRef) error { return s.call("join") }
func (s *fakeSession) LeaveChat(context.Context, fleet.ChatRef) error {
	return s.call("leave")
}
func (s *fakeSession) SendMessage(_ context.Context, _ string, m fleet.Message) error {
	return s.call("send=" + m.Text)
}
func (s *fakeSession) SetPrivacy(context.Context, fleet.PrivacyKey, fleet.PrivacyValue) error {
	return s.call("privacy")
}
func (s *fakeSession) SetTwoFactor(context.Context, fleet.TwoFactor) error { return s.call("2fa") }
func (s *fakeSession) Close(context.Context) error {
	s.p.mu.Lock()
	s.p.closed++
	s.p.mu.Unlock()
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	opened  []int64
	closed  int
	openErr map[int64]error
	onCall  func(id int64, op string) error
}

func (p *fakeProvider) Open(_ context.Context, c fleet.Credential) (fleet.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, c.AccountID)
	if err := p.openErr[c.AccountID]; err != nil {
		return nil, err
	}
	return &fakeSession{p: p, id: c.AccountID}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	patches map[int64]fleet.Patch
}

func (s *fakeStore) Find(context.Context, fleet.Filter) ([]fleet.Account, error) { return nil, nil }
func (s *fakeStore) Insert(context.Context, *fleet.Account) error                { return nil }
func (s *fakeStore) DeleteOne(context.Context, int64) error                      { return nil }
func (s *fakeStore) CountBy(context.Context, fleet.Filter) (int, error)          { return 0, nil }
func (s *fakeStore) UpdateOne(_ context.Context, id int64, p fleet.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patches == nil {
		s.patches = make(map[int64]fleet.Patch)
	}
	s.patches[id] = p
	return nil
}

func fleetOf(n int) []fleet.Account {
	out := make([]fleet.Account, n)
	for i := range out {
		out[i] = fleet.Account{ID: int64(i + 1), Phone: fmt.Sprintf("+1555000%04d", i+1)}
	}
	return out
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestRunner(p fleet.SessionProvider, s fleet.AccountStore) *Runner {
	return New(p, s, NewLocks(), Options{AccountDelay: time.Second, Sleep: noSleep})
}

func TestRunCountsAndOrder(t *testing.T) {
	p := &fakeProvider{
		openErr: map[int64]error{3: errors.New("dial tcp: timeout")},
		onCall: func(id int64, _ string) error {
			switch id {
			case 2:
				return errors.New("rpc error code 400: USER_ALREADY_PARTICIPANT")
			case 4:
				return errors.New("rpc error code 400: INVITE_HASH_EXPIRED")
			}
			return nil
		},
	}
	chat, _ := fleet.ParseChatLink("@golang_news")
	plan := fleet.NewPlan(1, fleetOf(5), fleet.JoinChat{Chat: chat}, 1, time.Now())
	rep := newTestRunner(p, nil).Run(context.Background(), "run", plan, nil, NewToken())

	if rep.Counters.Success+rep.Counters.Failed != 5 {
		t.Fatalf("counters = %+v", rep.Counters)
	}
	if rep.Counters.Success != 3 || rep.Counters.Failed != 2 {
		t.Fatalf("success/failed = %d/%d", rep.Counters.Success, rep.Counters.Failed)
	}
	for i, out := range rep.Outcomes {
		if out.AccountID != int64(i+1) {
			t.Fatalf("outcome %d is account %d", i, out.AccountID)
		}
	}
	if rep.Outcomes[1].Kind != classify.AlreadyInDesiredState {
		t.Fatalf("already participant kind = %v", rep.Outcomes[1].Kind)
	}
	if rep.Outcomes[2].Kind != classify.PermanentReject || rep.Outcomes[2].Detail != "connection error" {
		t.Fatalf("open failure = %+v", rep.Outcomes[2])
	}
	if p.closed != 4 {
		t.Fatalf("closed %d sessions, want 4", p.closed)
	}
	if rep.Cancelled {
		t.Fatal("run reported as cancelled")
	}
}

func TestRunCancelBeforeAccount(t *testing.T) {
	token := NewToken()
	const k = 3
	p := &fakeProvider{onCall: func(id int64, _ string) error {
		if id == k {
			token.Cancel()
		}
		return nil
	}}
	plan := fleet.NewPlan(1, fleetOf(6), fleet.SetBio{Bio: "hi"}, 1, time.Now())
	rep := newTestRunner(p, nil).Run(context.Background(), "run", plan, nil, token)

	if !rep.Cancelled {
		t.Fatal("expected cancelled report")
	}
	if len(rep.Outcomes) != k || rep.Counters.Processed != k {
		t.Fatalf("outcomes = %d processed = %d, want %d", len(rep.Outcomes), rep.Counters.Processed, k)
	}
	if rep.Counters.Success+rep.Counters.Failed >= len(plan.Accounts) {
		t.Fatalf("counters = %+v", rep.Counters)
	}
	if len(p.opened) != k {
		t.Fatalf("opened %v", p.opened)
	}
}

func TestRunCancelMidAccount(t *testing.T) {
	token := NewToken()
	p := &fakeProvider{onCall: func(id int64, _ string) error {
		if id == 2 {
			token.Cancel()
		}
		return nil
	}}
	msgs := []fleet.Message{{Text: "m1"}, {Text: "m2"}, {Text: "m3"}}
	plan := fleet.NewPlan(1, fleetOf(2), fleet.SendMessages{Target: "bot", Messages: msgs}, len(msgs), time.Now())
	rep := newTestRunner(p, nil).Run(context.Background(), "run", plan, nil, token)

	if !rep.Cancelled {
		t.Fatal("stop inside the last account must mark the run cancelled")
	}
	if len(rep.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v", rep.Outcomes)
	}
	last := rep.Outcomes[1]
	if last.Sent != 1 || last.Attempts != 1 || last.Detail != "1/3 sent, stopped" {
		t.Fatalf("cut short account = %+v", last)
	}
	want := []string{"1:send=m1", "1:send=m2", "1:send=m3", "2:send=m1"}
	if fmt.Sprint(p.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v", p.calls)
	}
}

func TestRunShutdownSkipsInterruptedAccount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProvider{onCall: func(id int64, _ string) error {
		if id == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}}
	plan := fleet.NewPlan(1, fleetOf(3), fleet.SetBio{Bio: "hi"}, 1, time.Now())
	rep := newTestRunner(p, nil).Run(ctx, "run", plan, nil, NewToken())

	if !rep.Cancelled {
		t.Fatal("expected cancelled report")
	}
	if rep.Counters.Processed != 1 || rep.Counters.Failed != 0 || len(rep.Outcomes) != 1 {
		t.Fatalf("interrupted account was recorded: %+v", rep.Counters)
	}
}

func TestRunProgressCadence(t *testing.T) {
	var got []Counters
	plan := fleet.NewPlan(1, fleetOf(12), fleet.CheckHealth{}, 1, time.Now())
	newTestRunner(&fakeProvider{}, nil).Run(context.Background(), "run", plan, func(c Counters) {
		got = append(got, c)
	}, nil)
	if len(got) != 2 {
		t.Fatalf("progress fired %d times: %+v", len(got), got)
	}
	if got[0].Processed != 10 || got[1].Processed != 12 {
		t.Fatalf("progress = %+v", got)
	}
}

func TestRunRepeatStopsOnThrottle(t *testing.T) {
	p := &fakeProvider{onCall: func(id int64, op string) error {
		if id == 1 && op == "send=m2" {
			return errors.New("FLOOD_WAIT_60")
		}
		return nil
	}}
	msgs := []fleet.Message{{Text: "m1"}, {Text: "m2"}, {Text: "m3"}}
	plan := fleet.NewPlan(1, fleetOf(2), fleet.SendMessages{Target: "bot", Messages: msgs}, len(msgs), time.Now())
	rep := newTestRunner(p, nil).Run(context.Background(), "run", plan, nil, nil)

	first := rep.Outcomes[0]
	if first.Kind != classify.Throttled || first.Attempts != 2 || first.Sent != 1 {
		t.Fatalf("throttled account = %+v", first)
	}
	if second := rep.Outcomes[1]; second.Sent != 3 || !second.Succeeded() {
		t.Fatalf("second account = %+v", second)
	}
	if rep.Counters.Sent != 4 {
		t.Fatalf("sent = %d", rep.Counters.Sent)
	}
	want := []string{"1:send=m1", "1:send=m2", "2:send=m1", "2:send=m2", "2:send=m3"}
	if fmt.Sprint(p.calls) != fmt.Sprint(want) {
		t.Fatalf("calls = %v", p.calls)
	}
}

func TestRunWritesBack(t *testing.T) {
	p := &fakeProvider{openErr: map[int64]error{2: errors.New("AUTH_KEY_UNREGISTERED")}}
	store := &fakeStore{}
	plan := fleet.NewPlan(1, fleetOf(2), fleet.SetName{Names: []string{"Alpha 1", "Alpha 2"}}, 1, time.Now())
	newTestRunner(p, store).Run(context.Background(), "run", plan, nil, nil)

	if got := store.patches[1].Name; got == nil || *got != "Alpha 1" {
		t.Fatalf("name patch = %v", got)
	}
	if got := store.patches[2].Status; got == nil || *got != fleet.StatusInactive {
		t.Fatalf("status patch = %v", got)
	}
	if p.calls[0] != "1:name=Alpha" {
		t.Fatalf("calls = %v", p.calls)
	}
}

func TestRunDetailLimit(t *testing.T) {
	r := New(&fakeProvider{}, nil, nil, Options{DetailLimit: 3, Sleep: noSleep})
	plan := fleet.NewPlan(1, fleetOf(5), fleet.CheckHealth{}, 1, time.Now())
	rep := r.Run(context.Background(), "run", plan, nil, nil)
	if len(rep.Outcomes) != 3 || rep.Truncated != 2 {
		t.Fatalf("outcomes = %d truncated = %d", len(rep.Outcomes), rep.Truncated)
	}
}

func TestDelayInterruptedByCancel(t *testing.T) {
	token := NewToken()
	r := New(&fakeProvider{}, nil, nil, Options{AccountDelay: time.Hour})
	done := make(chan Report, 1)
	plan := fleet.NewPlan(1, fleetOf(3), fleet.CheckHealth{}, 1, time.Now())
	go func() { done <- r.Run(context.Background(), "run", plan, nil, token) }()
	time.Sleep(20 * time.Millisecond)
	token.Cancel()
	select {
	case rep := <-done:
		if !rep.Cancelled || rep.Counters.Processed != 1 {
			t.Fatalf("report = %+v", rep.Counters)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop during the delay")
	}
}

func TestLocksSerializeAccount(t *testing.T) {
	locks := NewLocks()
	release, err := locks.Acquire(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, 7, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second acquire err = %v", err)
	}
	release()
	again, err := locks.Acquire(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
	if locks.Held() != 0 {
		t.Fatalf("held = %d", locks.Held())
	}
}
