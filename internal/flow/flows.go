package flow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/fleetbot/core/telegram/keyboard"
	"github.com/m3rciful/fleetbot/internal/callback"
	"github.com/m3rciful/fleetbot/internal/classify"
	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/report"
)

// MaxMessages caps the messages collected by the send flow.
const MaxMessages = 10

const minPasswordLen = 4

func (e *Engine) definitions() []*Definition {
	return []*Definition{
		e.nameFlow(),
		e.usernameFlow(),
		e.bioFlow(),
		e.photoFlow(),
		e.twoFactorFlow(),
		e.privacyFlow(),
		e.chatFlow(KindJoin),
		e.chatFlow(KindLeave),
		e.sendFlow(),
		e.checkFlow(),
		e.removeFlow(),
		e.loginFlow(),
	}
}

func (e *Engine) plan(s *Session, action fleet.Action, repeat int) (Result, error) {
	plan := fleet.NewPlan(s.OperatorID, s.Selected, action, repeat, e.opts.Now())
	return Result{Plan: &plan}, nil
}

// ask renders a text question. The first step after selection also offers
// going back to the account list.
func ask(text string, back bool) Prompt {
	if !back {
		return Prompt{Text: text, Markup: cancelMarkup()}
	}
	return Prompt{Text: text, Markup: keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		btn("⬅️ Accounts", callback.Of(callback.OpBack)),
		btn("❌ Cancel", callback.Of(callback.OpCancel)),
	})}
}

func accountsPreview(s *Session) string {
	return report.Preview(report.Labels(s.Selected))
}

func (e *Engine) nameFlow() *Definition {
	return &Definition{
		Kind:     KindName,
		Title:    "📛 Change name",
		Accounts: true,
		Steps: []Step{{
			Name: "get_name",
			Prompt: func(s *Session) Prompt {
				if s.count() == 1 {
					return ask("Send the new name.\nFormat: First Last", true)
				}
				return ask(fmt.Sprintf("Selected accounts: %d\n\n"+
					"Send names separated by commas, one per account:\nJohn, Jane, Bob\n\n"+
					"or one base name that gets numbered:\nUser → User 1, User 2, …", s.count()), true)
			},
			Text: func(_ context.Context, s *Session, in Input) (string, error) {
				names, err := FanOutNames(in.Text, s.count())
				if err != nil {
					return "", err
				}
				s.Params["names"] = names
				return "", nil
			},
		}},
		Preview: func(s *Session) string {
			return report.Preview(report.Pairs(s.Selected, s.strs("names")))
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			return e.plan(s, fleet.SetName{Names: s.strs("names")}, 1)
		},
	}
}

func (e *Engine) usernameFlow() *Definition {
	return &Definition{
		Kind:     KindUsername,
		Title:    "👤 Change username",
		Accounts: true,
		Steps: []Step{{
			Name: "get_username",
			Prompt: func(s *Session) Prompt {
				text := "Send the new username without @.\n"
				if s.count() > 1 {
					text += fmt.Sprintf("\nSelected accounts: %d\n"+
						"One username is numbered: name, name_2, name_3, …\n"+
						"or send one per account separated by commas.\n", s.count())
				}
				return ask(text+"\nSend - to remove usernames.", true)
			},
			Text: func(_ context.Context, s *Session, in Input) (string, error) {
				names, err := FanOutUsernames(in.Text, s.count())
				if err != nil {
					return "", err
				}
				s.Params["usernames"] = names
				return "", nil
			},
		}},
		Preview: func(s *Session) string {
			names := s.strs("usernames")
			at := make([]string, len(names))
			for i, n := range names {
				if n != "" {
					at[i] = "@" + n
				}
			}
			return report.Preview(report.Pairs(s.Selected, at))
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			return e.plan(s, fleet.SetUsername{Usernames: s.strs("usernames")}, 1)
		},
	}
}

func (e *Engine) bioFlow() *Definition {
	return &Definition{
		Kind:     KindBio,
		Title:    "📝 Change bio",
		Accounts: true,
		Steps: []Step{{
			Name: "get_bio",
			Prompt: func(*Session) Prompt {
				return ask(fmt.Sprintf("Send the new bio, at most %d characters.\nSend - to remove it.", maxBioLen), true)
			},
			Text: func(_ context.Context, s *Session, in Input) (string, error) {
				bio, err := ParseBio(in.Text)
				if err != nil {
					return "", err
				}
				s.Params["bio"] = bio
				return "", nil
			},
		}},
		Preview: func(s *Session) string {
			bio := s.str("bio")
			if bio == "" {
				return "Bio will be removed.\n\n" + accountsPreview(s)
			}
			return "Bio: " + bio + "\n\n" + accountsPreview(s)
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			return e.plan(s, fleet.SetBio{Bio: s.str("bio")}, 1)
		},
	}
}

func (e *Engine) photoFlow() *Definition {
	return &Definition{
		Kind:     KindPhoto,
		Title:    "🖼 Change profile photo",
		Accounts: true,
		Steps: []Step{{
			Name: "get_photo",
			Prompt: func(*Session) Prompt {
				return ask("Send the photo to set on every selected account.", true)
			},
			Text: func(_ context.Context, s *Session, in Input) (string, error) {
				m := in.Media
				if m == nil || len(m.Data) == 0 {
					return "", fleet.Invalid("photo", "send a photo")
				}
				if m.Kind != fleet.MediaPhoto && !strings.HasPrefix(m.MIME, "image/") {
					return "", fleet.Invalid("photo", "the file is not an image")
				}
				s.Params["photo"] = *m
				return "", nil
			},
		}},
		Preview: func(s *Session) string {
			m, _ := s.Params["photo"].(fleet.Media)
			return fmt.Sprintf("New photo: %d KB\n\n%s", (len(m.Data)+1023)/1024, accountsPreview(s))
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			m, _ := s.Params["photo"].(fleet.Media)
			return e.plan(s, fleet.SetPhoto{Photo: m}, 1)
		},
	}
}

func (e *Engine) twoFactorFlow() *Definition {
	removing := func(s *Session) bool { return s.str("mode") == "remove" }
	return &Definition{
		Kind:     KindTwoFactor,
		Title:    "🔐 Two-step verification",
		Accounts: true,
		Steps: []Step{
			{
				Name: "choose_mode",
				Prompt: func(*Session) Prompt {
					return Prompt{
						Text: "Set a new cloud password or remove the current one?\nRemoving needs the current password.",
						Markup: choiceMarkup([]choice{
							{"🔐 Set password", "set"},
							{"🔓 Remove password", "remove"},
						}, 1),
					}
				},
				Choose: func(_ context.Context, s *Session, v string) (string, error) {
					if v != "set" && v != "remove" {
						return "", fleet.Invalid("mode", "unknown option")
					}
					s.Params["mode"] = v
					return "", nil
				},
			},
			{
				Name:      "get_current",
				Sensitive: true,
				Prompt: func(s *Session) Prompt {
					if removing(s) {
						return ask("Send the current password.", false)
					}
					return ask("Send the current password, or - if the accounts have none.", false)
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					pw := strings.TrimSpace(in.Text)
					if pw == clearMarker {
						if removing(s) {
							return "", fleet.Invalid("password", "the current password is required to remove it")
						}
						pw = ""
					}
					if pw == "" && removing(s) {
						return "", fleet.Invalid("password", "send the current password")
					}
					s.Params["current"] = pw
					if removing(s) {
						return StepConfirm, nil
					}
					return "", nil
				},
			},
			{
				Name:      "get_new",
				Sensitive: true,
				Prompt: func(*Session) Prompt {
					return ask(fmt.Sprintf("Send the new password, at least %d characters.", minPasswordLen), false)
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					pw := strings.TrimSpace(in.Text)
					if utf8.RuneCountInString(pw) < minPasswordLen {
						return "", fleet.Invalid("password", fmt.Sprintf("use at least %d characters", minPasswordLen))
					}
					s.Params["new"] = pw
					return "", nil
				},
			},
			{
				Name: "get_hint",
				Prompt: func(*Session) Prompt {
					return ask("Send a password hint, or - for none.", false)
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					hint := strings.TrimSpace(in.Text)
					if hint == clearMarker {
						hint = ""
					}
					if hint != "" && strings.EqualFold(hint, s.str("new")) {
						return "", fleet.Invalid("hint", "the hint must not be the password")
					}
					s.Params["hint"] = hint
					return "", nil
				},
			},
		},
		Preview: func(s *Session) string {
			if removing(s) {
				return "Action: remove password\n\n" + accountsPreview(s)
			}
			hint := s.str("hint")
			if hint == "" {
				hint = "none"
			}
			return fmt.Sprintf("Action: set password\nHint: %s\n\n%s", hint, accountsPreview(s))
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			tf := fleet.TwoFactor{
				Remove:  removing(s),
				Current: s.str("current"),
				New:     s.str("new"),
				Hint:    s.str("hint"),
			}
			return e.plan(s, fleet.SetTwoFactor{TwoFactor: tf}, 1)
		},
	}
}

func (e *Engine) privacyFlow() *Definition {
	keys := fleet.PrivacyKeys()
	keyChoices := make([]choice, len(keys))
	for i, k := range keys {
		keyChoices[i] = choice{k.Label(), string(k)}
	}
	values := fleet.PrivacyValues()
	valueChoices := make([]choice, len(values))
	for i, v := range values {
		valueChoices[i] = choice{strings.ToUpper(string(v[:1])) + string(v[1:]), string(v)}
	}
	setKey := func(s *Session, raw string) (string, error) {
		k, ok := fleet.ParsePrivacyKey(raw)
		if !ok {
			return "", fleet.Invalid("privacy", "unknown privacy setting")
		}
		s.Params["key"] = string(k)
		return "", nil
	}
	setValue := func(s *Session, raw string) (string, error) {
		v, ok := fleet.ParsePrivacyValue(raw)
		if !ok {
			return "", fleet.Invalid("privacy", "choose everyone, contacts or nobody")
		}
		s.Params["value"] = string(v)
		return "", nil
	}
	return &Definition{
		Kind:     KindPrivacy,
		Title:    "🔒 Privacy settings",
		Accounts: true,
		Steps: []Step{
			{
				Name: "choose_key",
				Prompt: func(*Session) Prompt {
					return Prompt{Text: "Which setting?", Markup: choiceMarkup(keyChoices, 2)}
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					return setKey(s, in.Text)
				},
				Choose: func(_ context.Context, s *Session, v string) (string, error) {
					return setKey(s, v)
				},
			},
			{
				Name: "choose_value",
				Prompt: func(s *Session) Prompt {
					label := fleet.PrivacyKey(s.str("key")).Label()
					return Prompt{Text: label + ": who is allowed?", Markup: choiceMarkup(valueChoices, 3)}
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					return setValue(s, in.Text)
				},
				Choose: func(_ context.Context, s *Session, v string) (string, error) {
					return setValue(s, v)
				},
			},
		},
		Preview: func(s *Session) string {
			return fmt.Sprintf("%s → %s\n\n%s", fleet.PrivacyKey(s.str("key")).Label(), s.str("value"), accountsPreview(s))
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			return e.plan(s, fleet.SetPrivacy{
				Key:   fleet.PrivacyKey(s.str("key")),
				Value: fleet.PrivacyValue(s.str("value")),
			}, 1)
		},
	}
}

func (e *Engine) chatFlow(kind Kind) *Definition {
	title, verb := "➕ Join chat", "join"
	if kind == KindLeave {
		title, verb = "➖ Leave chat", "leave"
	}
	return &Definition{
		Kind:     kind,
		Title:    title,
		Accounts: true,
		Steps: []Step{{
			Name: "get_link",
			Prompt: func(*Session) Prompt {
				return ask("Send the chat to "+verb+":\n@name, t.me/name or an invite link t.me/+hash", true)
			},
			Text: func(_ context.Context, s *Session, in Input) (string, error) {
				ref, err := fleet.ParseChatLink(in.Text)
				if err != nil {
					return "", err
				}
				s.Params["chat"] = ref
				return "", nil
			},
		}},
		Preview: func(s *Session) string {
			ref, _ := s.Params["chat"].(fleet.ChatRef)
			return "Chat: " + ref.String() + "\n\n" + accountsPreview(s)
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			ref, _ := s.Params["chat"].(fleet.ChatRef)
			if kind == KindLeave {
				return e.plan(s, fleet.LeaveChat{Chat: ref}, 1)
			}
			return e.plan(s, fleet.JoinChat{Chat: ref}, 1)
		},
	}
}

func messages(s *Session) []fleet.Message {
	m, _ := s.Params["messages"].([]fleet.Message)
	return m
}

func (e *Engine) sendFlow() *Definition {
	return &Definition{
		Kind:     KindSend,
		Title:    "✉️ Send messages",
		Accounts: true,
		Steps: []Step{
			{
				Name: "get_target",
				Prompt: func(*Session) Prompt {
					return ask("Send the recipient: @username or t.me/username", true)
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					target, err := fleet.ParseTarget(in.Text)
					if err != nil {
						return "", err
					}
					s.Params["target"] = target
					return "", nil
				},
			},
			{
				Name: "choose_mode",
				Prompt: func(*Session) Prompt {
					return Prompt{
						Text: fmt.Sprintf("Send one message, or up to %d in sequence from every account?", MaxMessages),
						Markup: choiceMarkup([]choice{
							{"1️⃣ Single message", "single"},
							{"🔢 Multiple messages", "multiple"},
						}, 1),
					}
				},
				Choose: func(_ context.Context, s *Session, v string) (string, error) {
					if v != "single" && v != "multiple" {
						return "", fleet.Invalid("mode", "unknown option")
					}
					s.Params["mode"] = v
					s.Params["messages"] = []fleet.Message(nil)
					return "", nil
				},
			},
			{
				Name: "get_messages",
				Prompt: func(s *Session) Prompt {
					if s.str("mode") == "single" {
						return ask("Send the message: text, photo, video or file.", false)
					}
					n := len(messages(s))
					if n == 0 {
						return ask(fmt.Sprintf("Send up to %d messages one by one, then /done.", MaxMessages), false)
					}
					return ask(fmt.Sprintf("Saved %d/%d. Send the next message or /done.", n, MaxMessages), false)
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					msgs := messages(s)
					if s.str("mode") == "multiple" && in.Media == nil && strings.EqualFold(strings.TrimSpace(in.Text), "/done") {
						if len(msgs) == 0 {
							return "", fleet.Invalid("message", "send at least one message first")
						}
						return StepConfirm, nil
					}
					msg := fleet.Message{Text: strings.TrimSpace(in.Text), Media: in.Media}
					if msg.Text == "" && msg.Media == nil {
						return "", fleet.Invalid("message", "the message is empty")
					}
					msgs = append(append([]fleet.Message(nil), msgs...), msg)
					s.Params["messages"] = msgs
					if s.str("mode") == "single" || len(msgs) >= MaxMessages {
						return StepConfirm, nil
					}
					return "get_messages", nil
				},
			},
		},
		Preview: func(s *Session) string {
			msgs := messages(s)
			lines := make([]string, len(msgs))
			for i, m := range msgs {
				lines[i] = classify.Truncate(m.Describe(), classify.DetailLimit)
			}
			return fmt.Sprintf("To: @%s\nMessages:\n%s\n\n%s", s.str("target"), report.Preview(lines), accountsPreview(s))
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			msgs := messages(s)
			return e.plan(s, fleet.SendMessages{Target: s.str("target"), Messages: msgs}, len(msgs))
		},
	}
}

func (e *Engine) checkFlow() *Definition {
	return &Definition{
		Kind:     KindCheck,
		Title:    "🩺 Check accounts",
		Accounts: true,
		Preview:  accountsPreview,
		Complete: func(_ context.Context, s *Session) (Result, error) {
			return e.plan(s, fleet.CheckHealth{}, 1)
		},
	}
}

func (e *Engine) removeFlow() *Definition {
	return &Definition{
		Kind:     KindRemove,
		Title:    "🗑 Remove accounts",
		Accounts: true,
		Preview: func(s *Session) string {
			return "These accounts will be deleted from the fleet:\n" + accountsPreview(s)
		},
		Complete: func(_ context.Context, s *Session) (Result, error) {
			return Result{Remove: s.Selected}, nil
		},
	}
}
