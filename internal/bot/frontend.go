package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/core/telegram/sender"
	"github.com/m3rciful/fleetbot/internal/flow"
	"github.com/m3rciful/fleetbot/internal/report"
)

// API is the part of *tele.Bot the front-end uses.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	File(file *tele.File) (io.ReadCloser, error)
}

// FrontEnd renders flow prompts and run reports into operator chats. It
// remembers the last prompt per chat so selection changes edit it in place.
type FrontEnd struct {
	api  API
	disp *sender.Dispatcher

	mu   sync.Mutex
	last map[int64]*tele.Message
}

// NewFrontEnd returns a front-end over api. disp may be nil, in which case
// reports are sent inline.
func NewFrontEnd(api API, disp *sender.Dispatcher) *FrontEnd {
	return &FrontEnd{api: api, disp: disp, last: make(map[int64]*tele.Message)}
}

func sendOpts(markup *tele.ReplyMarkup) []interface{} {
	if markup == nil {
		return nil
	}
	return []interface{}{markup}
}

func notModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// Prompt shows p, editing the last prompt when p.Edit is set.
func (f *FrontEnd) Prompt(ctx context.Context, chatID int64, p flow.Prompt) error {
	if p.Edit {
		return f.EditLastPrompt(ctx, chatID, p)
	}
	msg, err := f.api.Send(&tele.Chat{ID: chatID}, p.Text, sendOpts(p.Markup)...)
	if err != nil {
		return err
	}
	f.remember(chatID, msg)
	return nil
}

// EditLastPrompt replaces the last prompt with p, or sends p as a new
// prompt when there is nothing to edit or the edit fails.
func (f *FrontEnd) EditLastPrompt(ctx context.Context, chatID int64, p flow.Prompt) error {
	last := f.lastPrompt(chatID)
	if last != nil {
		msg, err := f.api.Edit(last, p.Text, sendOpts(p.Markup)...)
		switch {
		case err == nil:
			if msg != nil {
				f.remember(chatID, msg)
			}
			return nil
		case notModified(err):
			return nil
		}
		logger.Debug(ctx, component, "prompt.edit_failed",
			slog.Int64("chat_id", chatID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	p.Edit = false
	return f.Prompt(ctx, chatID, p)
}

// Adopt makes msg the chat's last prompt, so the next edit targets the
// message whose button was pressed.
func (f *FrontEnd) Adopt(chatID int64, msg *tele.Message) {
	if msg != nil {
		f.remember(chatID, msg)
	}
}

// Close turns the last prompt into plain text and forgets it. It returns
// the edited message, or a new one when there was no prompt to edit.
func (f *FrontEnd) Close(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) (*tele.Message, error) {
	f.mu.Lock()
	last := f.last[chatID]
	delete(f.last, chatID)
	f.mu.Unlock()

	if last != nil {
		msg, err := f.api.Edit(last, text, sendOpts(markup)...)
		if err == nil {
			if msg == nil {
				msg = last
			}
			return msg, nil
		}
		if notModified(err) {
			return last, nil
		}
		logger.Debug(ctx, component, "prompt.close_failed",
			slog.Int64("chat_id", chatID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	return f.api.Send(&tele.Chat{ID: chatID}, text, sendOpts(markup)...)
}

// Notify sends a standalone message.
func (f *FrontEnd) Notify(_ context.Context, chatID int64, text string) error {
	_, err := f.api.Send(&tele.Chat{ID: chatID}, text)
	return err
}

// Update edits a message the front-end sent earlier, such as run progress.
func (f *FrontEnd) Update(_ context.Context, msg *tele.Message, text string, markup *tele.ReplyMarkup) error {
	if msg == nil {
		return errors.New("bot: no message to update")
	}
	_, err := f.api.Edit(msg, text, sendOpts(markup)...)
	if notModified(err) {
		return nil
	}
	return err
}

// Deliver sends text through the dispatcher with retries, split into as
// many messages as it needs. It falls back to a direct send when the queue
// is unavailable.
func (f *FrontEnd) Deliver(ctx context.Context, chatID int64, text string) error {
	for _, part := range report.Split(text, report.MessageLimit) {
		if err := f.deliver(ctx, chatID, part); err != nil {
			return err
		}
	}
	return nil
}

func (f *FrontEnd) deliver(ctx context.Context, chatID int64, text string) error {
	run := func() error {
		_, err := f.api.Send(&tele.Chat{ID: chatID}, text)
		return err
	}
	if f.disp == nil {
		return run()
	}
	err := f.disp.EnqueueTo(ctx, chatID, "send.report", "sendMessage", run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, component, "deliver.fallback",
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

// Delete removes an operator message, used for passwords and codes.
func (f *FrontEnd) Delete(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	err := f.api.Delete(&tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}})
	if err != nil {
		logger.Warn(ctx, component, "input.delete_failed",
			slog.Int64("chat_id", chatID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

func (f *FrontEnd) remember(chatID int64, msg *tele.Message) {
	f.mu.Lock()
	f.last[chatID] = msg
	f.mu.Unlock()
}

func (f *FrontEnd) lastPrompt(chatID int64) *tele.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[chatID]
}
