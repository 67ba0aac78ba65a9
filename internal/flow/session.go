package flow

import (
	"maps"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/selector"
)

// Kind names a conversation flow.
type Kind string

const (
	KindName      Kind = "name"
	KindUsername  Kind = "username"
	KindBio       Kind = "bio"
	KindPhoto     Kind = "photo"
	KindTwoFactor Kind = "twofa"
	KindPrivacy   Kind = "privacy"
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindSend      Kind = "send"
	KindCheck     Kind = "check"
	KindRemove    Kind = "remove"
	KindLogin     Kind = "login"
)

// Reserved step names handled by the engine itself.
const (
	StepSelect  = "select_accounts"
	StepConfirm = "confirm"
	// stepDone finishes a flow without a confirmation step.
	stepDone = "done"
)

// Input is one operator message.
type Input struct {
	Text  string
	Media *fleet.Media
	// MessageID lets the front-end delete sensitive input after use.
	MessageID int
}

// Prompt is what the front-end shows next.
type Prompt struct {
	Text   string
	Markup *tele.ReplyMarkup
	// Edit asks the front-end to replace the last prompt instead of sending
	// a new message.
	Edit bool
}

// Result is the outcome of one engine call. Exactly one of Prompt, Plan,
// Remove, Login or Cancelled is meaningful when Handled is true.
type Result struct {
	Handled bool
	Prompt  *Prompt
	Plan    *fleet.Plan
	Remove  []fleet.Account
	Login   *fleet.Account
	// Cancelled reports that the operator cancelled the flow.
	Cancelled bool
	// Sensitive asks the front-end to delete the operator's message.
	Sensitive bool
}

// Session is the state of one operator's flow.
type Session struct {
	OperatorID int64
	Kind       Kind
	Step       string
	Policy     selector.Policy
	Params     map[string]any
	Candidates []fleet.Account
	Selection  selector.Selection
	Page       int
	// Selected is the confirmed account list, set when selection proceeds.
	Selected  []fleet.Account
	CreatedAt time.Time
	UpdatedAt time.Time
}

// clone returns a copy a step can modify without touching the stored
// session. Candidates and Selected are shared read-only.
func (s *Session) clone() *Session {
	cp := *s
	cp.Params = maps.Clone(s.Params)
	if cp.Params == nil {
		cp.Params = make(map[string]any)
	}
	return &cp
}

func (s *Session) str(key string) string {
	v, _ := s.Params[key].(string)
	return v
}

func (s *Session) strs(key string) []string {
	v, _ := s.Params[key].([]string)
	return v
}

func (s *Session) count() int { return len(s.Selected) }

// close releases resources held in params, such as a pending login.
func (s *Session) close() {
	for _, v := range s.Params {
		if c, ok := v.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
