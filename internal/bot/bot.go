// Package bot connects the fleet engine to Telegram: commands, inline
// buttons and flow input arrive here and leave as prompts and reports.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/core/logger"
	coretelegram "github.com/m3rciful/fleetbot/core/telegram"
	"github.com/m3rciful/fleetbot/core/telegram/callbacks"
	"github.com/m3rciful/fleetbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/fleetbot/core/telegram/helpers"
	"github.com/m3rciful/fleetbot/core/telegram/keyboard"
	"github.com/m3rciful/fleetbot/internal/callback"
	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/flow"
	"github.com/m3rciful/fleetbot/internal/report"
	"github.com/m3rciful/fleetbot/internal/runner"
	"github.com/m3rciful/fleetbot/internal/selector"
)

const component = "fleet.bot"

// scopeUnique is the callback key of the account scope question.
const scopeUnique = "scope"

// Accounts is the account storage the bot reads directly.
type Accounts interface {
	fleet.AccountStore
	CountByStatus(ctx context.Context, ownerID int64) (map[fleet.Status]int, error)
}

// Runs starts and stops bulk runs.
type Runs interface {
	Start(ctx context.Context, plan fleet.Plan, hooks runner.Hooks) (string, error)
	Stop(operatorID int64) bool
	Active(operatorID int64) (fleet.ActionKind, bool)
}

// AuditLog records finished runs.
type AuditLog interface {
	Record(ctx context.Context, operatorID int64, rep runner.Report) error
}

// Options tunes the bot.
type Options struct {
	// MaxMedia caps downloaded attachments in bytes.
	MaxMedia int64
}

// Bot holds the Telegram handlers.
type Bot struct {
	flows    *flow.Engine
	runs     Runs
	accounts Accounts
	audit    AuditLog
	front    *FrontEnd
	api      API
	opts     Options
}

// New wires the handlers. audit may be nil. Attach must be called before
// the first update arrives.
func New(flows *flow.Engine, runs Runs, accounts Accounts, audit AuditLog, opts Options) *Bot {
	if opts.MaxMedia <= 0 {
		opts.MaxMedia = DefaultMaxMedia
	}
	return &Bot{
		flows:    flows,
		runs:     runs,
		accounts: accounts,
		audit:    audit,
		opts:     opts,
	}
}

// Attach binds the bot to a started Telegram client.
func (b *Bot) Attach(front *FrontEnd, api API) {
	b.front = front
	b.api = api
}

// flowCommands maps commands to the flow they start.
var flowCommands = []struct {
	cmd  string
	kind flow.Kind
	desc string
}{
	{"/login", flow.KindLogin, "Add an account"},
	{"/check", flow.KindCheck, "Check account health"},
	{"/remove", flow.KindRemove, "Remove accounts"},
	{"/name", flow.KindName, "Change display names"},
	{"/username", flow.KindUsername, "Change usernames"},
	{"/bio", flow.KindBio, "Change bios"},
	{"/photo", flow.KindPhoto, "Change profile photos"},
	{"/twofa", flow.KindTwoFactor, "Set or remove two-step passwords"},
	{"/privacy", flow.KindPrivacy, "Change privacy settings"},
	{"/join", flow.KindJoin, "Join a group or channel"},
	{"/leave", flow.KindLeave, "Leave a group or channel"},
	{"/send", flow.KindSend, "Send messages"},
}

// Register adds the bot's commands and callbacks to reg.
func (b *Bot) Register(reg *coretelegram.Registry) error {
	errs := []error{
		reg.RegisterCommand("/start", commands.Command{Handler: b.onStart, Description: "Show help", Aliases: []string{"/help"}}),
		reg.RegisterCommand("/accounts", commands.Command{Handler: b.onAccounts, Description: "List accounts"}),
		reg.RegisterCommand("/stats", commands.Command{Handler: b.onStats, Description: "Account counts"}),
		reg.RegisterCommand("/cancel", commands.Command{Handler: b.onCancel, Description: "Cancel the current dialog"}),
		reg.RegisterCommand("/stop", commands.Command{Handler: b.onStop, Description: "Stop the running action"}),
	}
	for _, fc := range flowCommands {
		kind := fc.kind
		errs = append(errs, reg.RegisterCommand(fc.cmd, commands.Command{
			Handler:     func(c tele.Context) error { return b.begin(c, kind) },
			Description: fc.desc,
		}))
	}
	errs = append(errs,
		reg.RegisterCallback(callback.Unique, b.onButton),
		reg.RegisterCallback(scopeUnique, b.onScope),
	)
	reg.SetCallbackNotFound(b.UnknownCallback())
	return errors.Join(errs...)
}

func operatorOf(c tele.Context) (operatorID, chatID int64) {
	if u := c.Sender(); u != nil {
		operatorID = u.ID
	}
	chatID = operatorID
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	return operatorID, chatID
}

// fail shows err to the operator, or logs it when it is not meant for them.
func (b *Bot) fail(ctx context.Context, chatID int64, err error) error {
	if text, ok := userMessage(err); ok {
		if text == "" {
			return nil
		}
		return b.front.Notify(ctx, chatID, text)
	}
	logger.Error(ctx, component, "handler.error",
		slog.Int64("chat_id", chatID),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
	_ = b.front.Notify(ctx, chatID, textFailed)
	return err
}

func (b *Bot) onStart(c tele.Context) error {
	return tghelpers.SendText(c, helpText)
}

func (b *Bot) onAccounts(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	accs, err := b.accounts.Find(ctx, fleet.Filter{OwnerID: op})
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	return b.front.Notify(ctx, chatID, report.Accounts(accs))
}

func (b *Bot) onStats(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	counts, err := b.accounts.CountByStatus(ctx, op)
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	text := report.Stats(counts)
	if kind, ok := b.runs.Active(op); ok {
		text += "\n\n⏳ Running: " + kind.Title()
	}
	return b.front.Notify(ctx, chatID, text)
}

func (b *Bot) onCancel(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	if !b.flows.Cancel(op) {
		return b.front.Notify(ctx, chatID, textNoFlow)
	}
	_, err := b.front.Close(ctx, chatID, textCancelled, nil)
	return err
}

func (b *Bot) onStop(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	if !b.runs.Stop(op) {
		return b.front.Notify(ctx, chatID, textNoRun)
	}
	return b.front.Notify(ctx, chatID, textStopping)
}

// parsePolicy reads a scope word typed after a command or carried by a
// scope button.
func parsePolicy(s string) (selector.Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one", "single", "1":
		return selector.Single, true
	case "several", "multiple", "some", "many":
		return selector.Multiple, true
	case "all":
		return selector.All, true
	}
	return 0, false
}

func scopeMarkup(kind flow.Kind) *tele.ReplyMarkup {
	data := func(p selector.Policy) string { return string(kind) + "|" + p.String() }
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "1️⃣ One", Unique: scopeUnique, Data: data(selector.Single)},
			{Text: "🔢 Several", Unique: scopeUnique, Data: data(selector.Multiple)},
			{Text: "👥 All", Unique: scopeUnique, Data: data(selector.All)},
		},
	)
}

// begin handles a flow command. Flows over accounts ask for the scope
// first unless the command carries it.
func (b *Bot) begin(c tele.Context, kind flow.Kind) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	title, accounts, ok := b.flows.Describe(kind)
	if !ok {
		return b.fail(ctx, chatID, flow.ErrUnknownFlow)
	}
	policy := selector.Multiple
	if accounts {
		args := c.Args()
		if kind == flow.KindRemove && len(args) > 0 && strings.EqualFold(args[0], "inactive") {
			return b.offerPurge(ctx, op, chatID)
		}
		p, given := selector.Policy(0), false
		if len(args) > 0 {
			p, given = parsePolicy(args[0])
		}
		if !given {
			return b.front.Prompt(ctx, chatID, flow.Prompt{
				Text:   title + "\n\nWhich accounts?",
				Markup: scopeMarkup(kind),
			})
		}
		policy = p
	}
	return b.start(ctx, op, chatID, kind, policy, false)
}

func (b *Bot) start(ctx context.Context, op, chatID int64, kind flow.Kind, policy selector.Policy, edit bool) error {
	p, err := b.flows.Start(ctx, op, kind, policy)
	if err != nil {
		if edit {
			if text, ok := userMessage(err); ok && text != "" {
				_, cerr := b.front.Close(ctx, chatID, text, nil)
				return cerr
			}
		}
		return b.fail(ctx, chatID, err)
	}
	p.Edit = edit
	return b.front.Prompt(ctx, chatID, p)
}

func (b *Bot) onScope(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	parts, err := callbacks.PayloadParts(c, "|", 2)
	if err != nil {
		return b.front.Notify(ctx, chatID, textInactive)
	}
	policy, ok := parsePolicy(parts[1])
	if !ok {
		return b.front.Notify(ctx, chatID, textInactive)
	}
	if cb := c.Callback(); cb != nil {
		b.front.Adopt(chatID, cb.Message)
	}
	return b.start(ctx, op, chatID, flow.Kind(parts[0]), policy, true)
}

// onButton handles every fleet button press.
func (b *Bot) onButton(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	cb := c.Callback()
	tok, err := callback.Decode(cb.Data)
	if err != nil {
		logger.Warn(ctx, component, "button.malformed",
			slog.String("data", logger.SanitizeLimit(cb.Data, 64)),
		)
		return nil
	}
	if tok.Op == callback.OpStop {
		if !b.runs.Stop(op) {
			return b.front.Notify(ctx, chatID, textNoRun)
		}
		return b.front.Notify(ctx, chatID, textStopping)
	}

	b.front.Adopt(chatID, cb.Message)
	if tok.Op == callback.OpPurge {
		return b.purge(ctx, op, chatID)
	}
	res, err := b.flows.Select(ctx, op, tok)
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	if !res.Handled {
		_, err := b.front.Close(ctx, chatID, "⌛ This dialog is over. Start again with a command.", nil)
		return err
	}
	return b.apply(ctx, op, chatID, res)
}

// InProgress reports whether text from the user belongs to a flow.
func (b *Bot) InProgress(userID int64) bool { return b.flows.Pending(userID) }

// ManagerHandler feeds a message to the operator's flow.
func (b *Bot) ManagerHandler(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	op, chatID := operatorOf(c)
	msg := c.Message()
	in := flow.Input{Text: c.Text()}
	if msg != nil {
		in.MessageID = msg.ID
		if in.Text == "" {
			in.Text = msg.Caption
		}
	}
	media, err := download(b.api, msg, b.opts.MaxMedia)
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	in.Media = media

	res, err := b.flows.Submit(ctx, op, in)
	if res.Sensitive {
		b.front.Delete(ctx, chatID, in.MessageID)
	}
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	if !res.Handled {
		return b.front.Notify(ctx, chatID, textIdle)
	}
	return b.apply(ctx, op, chatID, res)
}

// apply renders a handled engine result.
func (b *Bot) apply(ctx context.Context, op, chatID int64, res flow.Result) error {
	switch {
	case res.Cancelled:
		_, err := b.front.Close(ctx, chatID, textCancelled, nil)
		return err
	case res.Plan != nil:
		return b.launch(ctx, chatID, *res.Plan)
	case res.Remove != nil:
		return b.remove(ctx, chatID, res.Remove)
	case res.Login != nil:
		_, err := b.front.Close(ctx, chatID, "✅ Added "+res.Login.Label(), nil)
		return err
	case res.Prompt != nil:
		return b.front.Prompt(ctx, chatID, *res.Prompt)
	}
	return nil
}

func (b *Bot) remove(ctx context.Context, chatID int64, accs []fleet.Account) error {
	var (
		removed []string
		failed  int
	)
	for _, a := range accs {
		if err := b.accounts.DeleteOne(ctx, a.ID); err != nil && !errors.Is(err, fleet.ErrNotFound) {
			logger.Error(ctx, component, "account.remove",
				slog.Int64("account_id", a.ID),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
			failed++
			continue
		}
		removed = append(removed, a.Label())
	}
	_, err := b.front.Close(ctx, chatID, removedText(removed, failed), nil)
	return err
}

func (b *Bot) inactive(ctx context.Context, op int64) ([]fleet.Account, error) {
	return b.accounts.Find(ctx, fleet.Filter{OwnerID: op, Status: fleet.StatusInactive})
}

// offerPurge lists the operator's inactive accounts under a remove button.
func (b *Bot) offerPurge(ctx context.Context, op, chatID int64) error {
	accs, err := b.inactive(ctx, op)
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	if len(accs) == 0 {
		return b.front.Notify(ctx, chatID, textNoInactive)
	}
	return b.front.Prompt(ctx, chatID, flow.Prompt{Text: inactiveText(accs), Markup: purgeMarkup()})
}

// purge removes the accounts that are inactive at the time of the press,
// not the ones listed when the button was offered.
func (b *Bot) purge(ctx context.Context, op, chatID int64) error {
	accs, err := b.inactive(ctx, op)
	if err != nil {
		return b.fail(ctx, chatID, err)
	}
	if len(accs) == 0 {
		_, err := b.front.Close(ctx, chatID, textNoInactive, nil)
		return err
	}
	logger.Info(ctx, component, "account.purge",
		slog.Int64("user_id", op),
		slog.Int("accounts", len(accs)),
	)
	return b.remove(ctx, chatID, accs)
}

func purgeMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "🗑 Remove inactive accounts", Unique: callback.Unique, Data: callback.Of(callback.OpPurge).Encode()},
	})
}

func stopMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "⛔ Stop", Unique: callback.Unique, Data: callback.Of(callback.OpStop).Encode()},
	})
}

// launch turns the confirmation prompt into a live progress message and
// starts the run. The final report is a separate message.
func (b *Bot) launch(ctx context.Context, chatID int64, plan fleet.Plan) error {
	kind := plan.Kind()
	progress, err := b.front.Close(ctx, chatID,
		report.Progress(kind, runner.Counters{Total: len(plan.Accounts)}), stopMarkup())
	if err != nil {
		return err
	}
	hooks := runner.Hooks{
		OnProgress: func(_ string, c runner.Counters) {
			if err := b.front.Update(ctx, progress, report.Progress(kind, c), stopMarkup()); err != nil {
				logger.Debug(ctx, component, "progress.update_failed",
					slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
				)
			}
		},
		OnFinish: func(rep runner.Report) {
			b.finish(context.WithoutCancel(ctx), chatID, plan.OperatorID, progress, rep)
		},
	}
	runID, err := b.runs.Start(ctx, plan, hooks)
	if err != nil {
		text, ok := userMessage(err)
		if !ok {
			text = textFailed
		}
		_ = b.front.Update(ctx, progress, text, nil)
		if ok {
			return nil
		}
		return err
	}
	logger.Info(ctx, component, "run.launched",
		slog.String("run_id", runID),
		slog.String("action", string(kind)),
		slog.Int("accounts", len(plan.Accounts)),
	)
	return nil
}

func (b *Bot) finish(ctx context.Context, chatID, operatorID int64, progress *tele.Message, rep runner.Report) {
	_ = b.front.Update(ctx, progress, report.Progress(rep.Action, rep.Counters), nil)
	if err := b.front.Deliver(ctx, chatID, report.Final(rep)); err != nil {
		logger.Error(ctx, component, "report.deliver",
			slog.String("run_id", rep.RunID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	if rep.Action == fleet.ActionCheck {
		b.suggestPurge(ctx, chatID, operatorID)
	}
	if b.audit == nil {
		return
	}
	if err := b.audit.Record(ctx, operatorID, rep); err != nil {
		logger.Error(ctx, component, "audit.record",
			slog.String("run_id", rep.RunID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

// suggestPurge offers to remove the accounts a check run left inactive.
func (b *Bot) suggestPurge(ctx context.Context, chatID, operatorID int64) {
	accs, err := b.inactive(ctx, operatorID)
	if err != nil {
		logger.Warn(ctx, component, "purge.lookup",
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	if len(accs) == 0 {
		return
	}
	if err := b.front.Prompt(ctx, chatID, flow.Prompt{Text: inactiveText(accs), Markup: purgeMarkup()}); err != nil {
		logger.Warn(ctx, component, "purge.offer",
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

// NotifyExpired tells the operator an idle flow was dropped.
func (b *Bot) NotifyExpired(operatorID int64, kind flow.Kind) {
	title, _, _ := b.flows.Describe(kind)
	ctx := context.Background()
	if _, err := b.front.Close(ctx, operatorID, expiredText(title), nil); err != nil {
		logger.Debug(ctx, component, "expired.notify_failed",
			slog.Int64("operator_id", operatorID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

// UnknownText answers text outside any flow.
func (b *Bot) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error { return tghelpers.SendText(c, textIdle) }
}

// UnknownMedia answers attachments outside any flow.
func (b *Bot) UnknownMedia() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "Attachments are only used inside a dialog. "+textIdle)
	}
}

// UnknownCallback answers buttons nobody handles.
func (b *Bot) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error { return tghelpers.SendText(c, textInactive) }
}

// Denied answers users outside the operator list.
func (b *Bot) Denied(c tele.Context) error { return tghelpers.SendText(c, textDenied) }

// Limited answers updates dropped by the rate limiter.
func (b *Bot) Limited(c tele.Context) error { return tghelpers.SendText(c, textLimited) }
