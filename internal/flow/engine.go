// Package flow runs the per-operator conversations that collect the
// parameters of a bulk action and end in a confirmed plan.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/core/telegram/keyboard"
	"github.com/m3rciful/fleetbot/core/telegram/state"
	"github.com/m3rciful/fleetbot/internal/callback"
	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/selector"
)

const component = "fleet.flow"

// DefaultTTL is the idle time after which a flow expires.
const DefaultTTL = 30 * time.Minute

// ErrUnknownFlow is returned by Start for unregistered kinds.
var ErrUnknownFlow = errors.New("flow: unknown flow")

// Step is one input-collection step.
type Step struct {
	Name   string
	Prompt func(s *Session) Prompt
	// Text handles typed input or an attachment. It returns the next step
	// name; "" moves to the following step.
	Text func(ctx context.Context, s *Session, in Input) (string, error)
	// Choose handles a choice button.
	Choose func(ctx context.Context, s *Session, value string) (string, error)
	// Sensitive marks input that the front-end should delete.
	Sensitive bool
}

// Definition describes one flow.
type Definition struct {
	Kind  Kind
	Title string
	// Accounts makes account selection the first step.
	Accounts bool
	Steps    []Step
	// Preview renders the confirmation body.
	Preview func(s *Session) string
	// Complete turns the confirmed session into a result.
	Complete func(ctx context.Context, s *Session) (Result, error)
}

func (d *Definition) step(name string) (int, *Step) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return i, &d.Steps[i]
		}
	}
	return -1, nil
}

// Options tunes the engine. Zero values get defaults.
type Options struct {
	TTL          time.Duration
	PageSize     int
	AccountLimit int
	// DefaultAPIID and DefaultAPIHash skip the api credential login steps.
	DefaultAPIID   int
	DefaultAPIHash string
	Now            func() time.Time
	// OnExpire is told about every flow dropped for idling, whether found
	// by a lookup or by the sweeper.
	OnExpire func(operatorID int64, kind Kind)
}

// Engine owns every operator's flow state.
type Engine struct {
	sessions *state.Store[*Session]
	accounts fleet.AccountStore
	auth     Authenticator
	flows    map[Kind]*Definition
	opts     Options
}

// New builds an engine with every flow registered. auth may be nil, which
// disables the login flow.
func New(accounts fleet.AccountStore, auth Authenticator, opts Options) *Engine {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = selector.PageSize
	}
	if opts.AccountLimit <= 0 {
		opts.AccountLimit = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		sessions: state.NewStore[*Session](opts.TTL, opts.Now),
		accounts: accounts,
		auth:     auth,
		flows:    make(map[Kind]*Definition),
		opts:     opts,
	}
	e.sessions.OnExpire(func(id int64, s *Session) {
		s.close()
		logger.Info(context.Background(), component, "flow.expired",
			slog.Int64("operator_id", id),
			slog.String("flow", string(s.Kind)),
			slog.String("step", s.Step),
		)
		if opts.OnExpire != nil {
			opts.OnExpire(id, s.Kind)
		}
	})
	for _, d := range e.definitions() {
		e.flows[d.Kind] = d
	}
	return e
}

// Sweep drops expired flows. RunSweeper calls it periodically.
func (e *Engine) Sweep() int { return e.sessions.Sweep() }

// RunSweeper sweeps expired flows until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) {
	e.sessions.RunSweeper(ctx, e.opts.TTL/2, nil)
}

// Active reports whether the operator has a live flow.
func (e *Engine) Active(operatorID int64) bool { return e.sessions.Has(operatorID) }

// Pending reports whether the operator has a flow, including one that has
// expired but was not swept yet. Input for it should still reach Submit so
// the expiry is reported.
func (e *Engine) Pending(operatorID int64) bool { return e.sessions.Contains(operatorID) }

// Describe returns the title of kind and whether it starts with account
// selection.
func (e *Engine) Describe(kind Kind) (title string, accounts bool, ok bool) {
	def, ok := e.flows[kind]
	if !ok {
		return "", false, false
	}
	return def.Title, def.Accounts, true
}

// Current returns the operator's live session for inspection.
func (e *Engine) Current(operatorID int64) (Session, bool) {
	s, st := e.sessions.Get(operatorID)
	if st != state.Live {
		return Session{}, false
	}
	return *s, true
}

// Start begins kind for the operator, replacing any flow in progress.
// policy is ignored by flows without account selection. When Start fails
// the previous flow stays as it was.
func (e *Engine) Start(ctx context.Context, operatorID int64, kind Kind, policy selector.Policy) (Prompt, error) {
	def, ok := e.flows[kind]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %q", ErrUnknownFlow, kind)
	}
	unlock := e.sessions.Lock(operatorID)
	defer unlock()

	now := e.opts.Now()
	s := &Session{
		OperatorID: operatorID,
		Kind:       kind,
		Policy:     policy,
		Params:     make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	prev, st := e.sessions.Get(operatorID)

	if def.Accounts {
		cands, err := e.accounts.Find(ctx, fleet.Filter{OwnerID: operatorID})
		if err != nil {
			return Prompt{}, fmt.Errorf("flow: load accounts: %w", err)
		}
		if len(cands) == 0 {
			return Prompt{}, fleet.ErrNoAccounts
		}
		s.Candidates = cands
		if st == state.Live && sameCandidates(prev.Candidates, cands) {
			s.Selection = prev.Selection
		}
	}
	if kind == KindLogin {
		if e.auth == nil {
			return Prompt{}, fmt.Errorf("%w: login is not configured", ErrUnknownFlow)
		}
		n, err := e.accounts.CountBy(ctx, fleet.Filter{OwnerID: operatorID})
		if err != nil {
			return Prompt{}, fmt.Errorf("flow: count accounts: %w", err)
		}
		if n >= e.opts.AccountLimit {
			return Prompt{}, fleet.ErrAccountLimit
		}
	}

	var (
		p   Prompt
		err error
	)
	switch {
	case def.Accounts && policy == selector.All:
		s.Selection = selector.SelectAll(len(s.Candidates))
		s.Selected, _ = selector.Proceed(s.Selection, s.Candidates)
		p, err = e.enter(ctx, def, s, e.first(def))
	case def.Accounts:
		p, err = e.enter(ctx, def, s, StepSelect)
	default:
		p, err = e.enter(ctx, def, s, e.first(def))
	}
	if err != nil {
		return Prompt{}, err
	}
	if st == state.Live {
		prev.close()
	}
	e.sessions.Put(operatorID, s)
	logger.Info(ctx, component, "flow.start",
		slog.Int64("operator_id", operatorID),
		slog.String("flow", string(kind)),
		slog.String("policy", policy.String()),
		slog.Int("accounts", len(s.Candidates)),
	)
	return p, nil
}

func sameCandidates(a, b []fleet.Account) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// first returns the first step after account selection.
func (e *Engine) first(def *Definition) string {
	if def.Kind == KindLogin && e.opts.DefaultAPIID != 0 && e.opts.DefaultAPIHash != "" {
		return stepPhone
	}
	if len(def.Steps) == 0 {
		return StepConfirm
	}
	return def.Steps[0].Name
}

// load returns a working copy of the operator's session. ok is false when no
// flow is running.
func (e *Engine) load(operatorID int64) (*Session, *Definition, bool, error) {
	s, st := e.sessions.Get(operatorID)
	switch st {
	case state.Missing:
		return nil, nil, false, nil
	case state.Expired:
		return nil, nil, false, fleet.ErrSessionExpired
	}
	return s.clone(), e.flows[s.Kind], true, nil
}

// Submit delivers typed input to the operator's current step. Invalid input
// returns a *fleet.ValidationError and leaves the flow unchanged.
func (e *Engine) Submit(ctx context.Context, operatorID int64, in Input) (Result, error) {
	unlock := e.sessions.Lock(operatorID)
	defer unlock()

	s, def, ok, err := e.load(operatorID)
	if !ok || err != nil {
		return Result{}, err
	}
	res := Result{Handled: true}

	switch s.Step {
	case StepSelect:
		if err := e.typedSelection(s, in.Text); err != nil {
			return res, err
		}
		p := e.selectPrompt(def, s)
		res.Prompt = &p
		e.save(s)
		return res, nil
	case StepConfirm:
		return res, fleet.Invalid("", "use the buttons above to confirm or cancel")
	}

	_, step := def.step(s.Step)
	if step == nil {
		return res, fmt.Errorf("flow: %s has no step %q", def.Kind, s.Step)
	}
	res.Sensitive = step.Sensitive
	if step.Text == nil {
		return res, fleet.Invalid("", "choose one of the options above")
	}
	next, err := step.Text(ctx, s, in)
	if err != nil {
		logger.Debug(ctx, component, "flow.invalid",
			slog.Int64("operator_id", operatorID),
			slog.String("flow", string(def.Kind)),
			slog.String("step", s.Step),
		)
		return res, err
	}
	return e.advance(ctx, def, s, next, res, false)
}

// Select delivers a decoded button press.
func (e *Engine) Select(ctx context.Context, operatorID int64, tok callback.Token) (Result, error) {
	unlock := e.sessions.Lock(operatorID)
	defer unlock()

	s, def, ok, err := e.load(operatorID)
	if !ok || err != nil {
		return Result{}, err
	}
	res := Result{Handled: true}
	stale := fleet.Invalid("", "this button is no longer active")

	switch tok.Op {
	case callback.OpCancel:
		e.drop(operatorID, s)
		res.Cancelled = true
		return res, nil

	case callback.OpNoop:
		return res, nil

	case callback.OpToggle, callback.OpPage, callback.OpAll:
		if s.Step != StepSelect {
			return res, stale
		}
		switch tok.Op {
		case callback.OpToggle:
			if tok.Index >= len(s.Candidates) {
				return res, stale
			}
			s.Selection = selector.Toggle(s.Selection, tok.Index, s.Policy)
		case callback.OpPage:
			s.Page = tok.Index
		case callback.OpAll:
			if s.Policy == selector.Single {
				return res, stale
			}
			s.Selection = selector.SelectAll(len(s.Candidates))
		}
		p := e.selectPrompt(def, s)
		p.Edit = true
		res.Prompt = &p
		e.save(s)
		return res, nil

	case callback.OpProceed:
		if s.Step != StepSelect {
			return res, stale
		}
		if s.Policy == selector.Single {
			s.Selection = s.Selection.KeepLast()
		}
		accs, err := selector.Proceed(s.Selection, s.Candidates)
		if err != nil {
			return res, err
		}
		s.Selected = accs
		return e.advance(ctx, def, s, e.first(def), res, true)

	case callback.OpBack:
		if !def.Accounts || s.Step == StepSelect {
			return res, stale
		}
		return e.advance(ctx, def, s, StepSelect, res, true)

	case callback.OpChoice:
		_, step := def.step(s.Step)
		if step == nil || step.Choose == nil {
			return res, stale
		}
		next, err := step.Choose(ctx, s, tok.Value)
		if err != nil {
			return res, err
		}
		return e.advance(ctx, def, s, next, res, true)

	case callback.OpConfirm:
		if s.Step != StepConfirm {
			return res, stale
		}
		return e.complete(ctx, def, s, res)
	}
	return res, stale
}

// Cancel discards the operator's flow. It never touches a running bulk run.
func (e *Engine) Cancel(operatorID int64) bool {
	unlock := e.sessions.Lock(operatorID)
	defer unlock()
	s, st := e.sessions.Get(operatorID)
	if st != state.Live {
		return false
	}
	e.drop(operatorID, s)
	return true
}

func (e *Engine) drop(operatorID int64, s *Session) {
	s.close()
	e.sessions.Delete(operatorID)
	logger.Info(context.Background(), component, "flow.cancel",
		slog.Int64("operator_id", operatorID),
		slog.String("flow", string(s.Kind)),
		slog.String("step", s.Step),
	)
}

func (e *Engine) save(s *Session) {
	s.UpdatedAt = e.opts.Now()
	e.sessions.Put(s.OperatorID, s)
}

// advance moves s to next and stores it; stepDone completes the flow.
func (e *Engine) advance(ctx context.Context, def *Definition, s *Session, next string, res Result, edit bool) (Result, error) {
	if next == "" {
		i, _ := def.step(s.Step)
		if i >= 0 && i+1 < len(def.Steps) {
			next = def.Steps[i+1].Name
		} else {
			next = StepConfirm
		}
	}
	if next == stepDone {
		return e.complete(ctx, def, s, res)
	}
	p, err := e.enter(ctx, def, s, next)
	if err != nil {
		return res, err
	}
	p.Edit = p.Edit || edit
	res.Prompt = &p
	e.save(s)
	logger.Debug(ctx, component, "flow.step",
		slog.Int64("operator_id", s.OperatorID),
		slog.String("flow", string(def.Kind)),
		slog.String("step", next),
	)
	return res, nil
}

// enter sets the step and renders its prompt.
func (e *Engine) enter(_ context.Context, def *Definition, s *Session, name string) (Prompt, error) {
	s.Step = name
	switch name {
	case StepSelect:
		if s.Policy == selector.Single {
			s.Selection = s.Selection.KeepLast()
		}
		return e.selectPrompt(def, s), nil
	case StepConfirm:
		return e.confirmPrompt(def, s), nil
	}
	_, step := def.step(name)
	if step == nil {
		return Prompt{}, fmt.Errorf("flow: %s has no step %q", def.Kind, name)
	}
	return step.Prompt(s), nil
}

func (e *Engine) complete(ctx context.Context, def *Definition, s *Session, res Result) (Result, error) {
	out, err := def.Complete(ctx, s)
	if err != nil {
		if _, ok := fleet.IsValidation(err); ok {
			return res, err
		}
		e.drop(s.OperatorID, s)
		return res, err
	}
	e.sessions.Delete(s.OperatorID)
	out.Handled = true
	out.Sensitive = out.Sensitive || res.Sensitive
	logger.Info(ctx, component, "flow.complete",
		slog.Int64("operator_id", s.OperatorID),
		slog.String("flow", string(def.Kind)),
		slog.Int("accounts", len(s.Selected)),
	)
	return out, nil
}

func (e *Engine) typedSelection(s *Session, text string) error {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "all") && s.Policy != selector.Single {
		s.Selection = selector.SelectAll(len(s.Candidates))
		return nil
	}
	idx, err := selector.ParseNumbers(text, len(s.Candidates))
	if err != nil {
		return err
	}
	if s.Policy == selector.Single && len(idx) != 1 {
		return fleet.Invalid("accounts", "pick exactly one account")
	}
	s.Selection = selector.Of(idx...)
	s.Page = idx[len(idx)-1] / e.opts.PageSize
	return nil
}

func (e *Engine) selectPrompt(def *Definition, s *Session) Prompt {
	v := selector.Page(s.Candidates, s.Selection, s.Page, e.opts.PageSize)
	s.Page = v.Page
	title := def.Title + "\n\nSelect accounts"
	if s.Policy == selector.Single {
		title = def.Title + "\n\nSelect one account"
	}
	return Prompt{
		Text:   v.Text(title) + "\n\nTap accounts or type numbers like 1,3-5.",
		Markup: selector.Markup(v, s.Policy),
	}
}

func (e *Engine) confirmPrompt(def *Definition, s *Session) Prompt {
	var b strings.Builder
	b.WriteString(def.Title)
	b.WriteString("\n\n")
	if def.Preview != nil {
		b.WriteString(def.Preview(s))
		b.WriteString("\n\n")
	}
	if def.Accounts {
		fmt.Fprintf(&b, "Accounts: %d\n", s.count())
	}
	b.WriteString("Confirm?")
	return Prompt{Text: b.String(), Markup: confirmMarkup(def.Accounts)}
}

func btn(text string, t callback.Token) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: text, Unique: callback.Unique, Data: t.Encode()}
}

func confirmMarkup(back bool) *tele.ReplyMarkup {
	rows := [][]keyboard.InlineBtn{{btn("✅ Confirm", callback.Of(callback.OpConfirm))}}
	last := []keyboard.InlineBtn{}
	if back {
		last = append(last, btn("⬅️ Accounts", callback.Of(callback.OpBack)))
	}
	last = append(last, btn("❌ Cancel", callback.Of(callback.OpCancel)))
	return keyboard.InlineButtonsRows(append(rows, last)...)
}

// cancelMarkup is attached to text prompts.
func cancelMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{btn("❌ Cancel", callback.Of(callback.OpCancel))})
}

// choiceMarkup renders one button per option, n per row, plus cancel.
func choiceMarkup(options []choice, perRow int) *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, len(options))
	for i, o := range options {
		btns[i] = btn(o.label, callback.Choice(o.value))
	}
	rows := keyboard.Chunk(btns, perRow)
	rows = append(rows, []keyboard.InlineBtn{btn("❌ Cancel", callback.Of(callback.OpCancel))})
	return keyboard.InlineButtonsRows(rows...)
}

type choice struct {
	label string
	value string
}
