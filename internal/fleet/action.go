package fleet

import (
	"fmt"
	"regexp"
	"strings"
)

// ActionKind names a bulk action.
type ActionKind string

const (
	ActionName      ActionKind = "name"
	ActionUsername  ActionKind = "username"
	ActionBio       ActionKind = "bio"
	ActionPhoto     ActionKind = "photo"
	ActionTwoFactor ActionKind = "twofa"
	ActionPrivacy   ActionKind = "privacy"
	ActionJoin      ActionKind = "join"
	ActionLeave     ActionKind = "leave"
	ActionSend      ActionKind = "send"
	ActionCheck     ActionKind = "check"
)

var actionTitles = map[ActionKind]string{
	ActionName:      "Name change",
	ActionUsername:  "Username change",
	ActionBio:       "Bio change",
	ActionPhoto:     "Profile photo change",
	ActionTwoFactor: "Two-step verification",
	ActionPrivacy:   "Privacy settings",
	ActionJoin:      "Join chat",
	ActionLeave:     "Leave chat",
	ActionSend:      "Send messages",
	ActionCheck:     "Account check",
}

// Title returns the operator-facing name of the action.
func (k ActionKind) Title() string {
	if t, ok := actionTitles[k]; ok {
		return t
	}
	return string(k)
}

// Risky reports whether the action touches credentials or the profile photo
// and therefore gets the longer inter-account delay.
func (k ActionKind) Risky() bool {
	return k == ActionTwoFactor || k == ActionPhoto
}

// Action is a validated action descriptor. Concrete types are listed below.
type Action interface {
	Kind() ActionKind
}

// SetName assigns Names[i] to the i-th account of the plan.
type SetName struct{ Names []string }

// SetUsername assigns Usernames[i] to the i-th account; an empty value clears it.
type SetUsername struct{ Usernames []string }

// SetBio sets the same bio on every account; empty clears it.
type SetBio struct{ Bio string }

// SetPhoto uploads the same profile photo to every account.
type SetPhoto struct{ Photo Media }

// SetTwoFactor enables, changes or removes the cloud password.
type SetTwoFactor struct{ TwoFactor TwoFactor }

// SetPrivacy applies one privacy rule.
type SetPrivacy struct {
	Key   PrivacyKey
	Value PrivacyValue
}

// JoinChat joins a chat by public name or invite link.
type JoinChat struct{ Chat ChatRef }

// LeaveChat leaves a chat by public name or invite link.
type LeaveChat struct{ Chat ChatRef }

// SendMessages delivers Messages in order to Target from every account.
type SendMessages struct {
	Target   string
	Messages []Message
}

// CheckHealth verifies that each session is still authorized.
type CheckHealth struct{}

func (SetName) Kind() ActionKind      { return ActionName }
func (SetUsername) Kind() ActionKind  { return ActionUsername }
func (SetBio) Kind() ActionKind       { return ActionBio }
func (SetPhoto) Kind() ActionKind     { return ActionPhoto }
func (SetTwoFactor) Kind() ActionKind { return ActionTwoFactor }
func (SetPrivacy) Kind() ActionKind   { return ActionPrivacy }
func (JoinChat) Kind() ActionKind     { return ActionJoin }
func (LeaveChat) Kind() ActionKind    { return ActionLeave }
func (SendMessages) Kind() ActionKind { return ActionSend }
func (CheckHealth) Kind() ActionKind  { return ActionCheck }

// TwoFactor describes a cloud password change.
type TwoFactor struct {
	Remove  bool
	Current string
	New     string
	Hint    string
}

// MediaKind is the kind of an attachment.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
)

// Media is an attachment downloaded from the front-end.
type Media struct {
	Kind     MediaKind
	FileName string
	MIME     string
	Data     []byte
}

// Message is one outgoing message. Text is the caption when Media is set.
type Message struct {
	Text  string
	Media *Media
}

// Describe returns a short operator-facing description.
func (m Message) Describe() string {
	if m.Media == nil {
		return m.Text
	}
	if m.Text == "" {
		return "[" + string(m.Media.Kind) + "]"
	}
	return "[" + string(m.Media.Kind) + "] " + m.Text
}

// PrivacyKey selects a privacy setting.
type PrivacyKey string

const (
	PrivacyPhone        PrivacyKey = "phone"
	PrivacyLastSeen     PrivacyKey = "last_seen"
	PrivacyProfilePhoto PrivacyKey = "profile_photo"
	PrivacyForwards     PrivacyKey = "forwards"
	PrivacyCalls        PrivacyKey = "calls"
	PrivacyInvites      PrivacyKey = "invites"
)

// PrivacyValue is who a privacy rule allows.
type PrivacyValue string

const (
	PrivacyEveryone PrivacyValue = "everyone"
	PrivacyContacts PrivacyValue = "contacts"
	PrivacyNobody   PrivacyValue = "nobody"
)

var privacyKeyLabels = []struct {
	key   PrivacyKey
	label string
}{
	{PrivacyPhone, "Phone number"},
	{PrivacyLastSeen, "Last seen"},
	{PrivacyProfilePhoto, "Profile photo"},
	{PrivacyForwards, "Forwarded messages"},
	{PrivacyCalls, "Calls"},
	{PrivacyInvites, "Group invites"},
}

// PrivacyKeys lists supported keys in display order.
func PrivacyKeys() []PrivacyKey {
	out := make([]PrivacyKey, 0, len(privacyKeyLabels))
	for _, p := range privacyKeyLabels {
		out = append(out, p.key)
	}
	return out
}

// Label returns the operator-facing name of the key.
func (k PrivacyKey) Label() string {
	for _, p := range privacyKeyLabels {
		if p.key == k {
			return p.label
		}
	}
	return string(k)
}

// ParsePrivacyKey accepts a key name; "groups" and "channels" alias invites.
func ParsePrivacyKey(s string) (PrivacyKey, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "groups" || s == "channels" {
		return PrivacyInvites, true
	}
	for _, p := range privacyKeyLabels {
		if string(p.key) == s {
			return p.key, true
		}
	}
	return "", false
}

// PrivacyValues lists supported values in display order.
func PrivacyValues() []PrivacyValue {
	return []PrivacyValue{PrivacyEveryone, PrivacyContacts, PrivacyNobody}
}

// ParsePrivacyValue accepts a value name.
func ParsePrivacyValue(s string) (PrivacyValue, bool) {
	switch v := PrivacyValue(strings.ToLower(strings.TrimSpace(s))); v {
	case PrivacyEveryone, PrivacyContacts, PrivacyNobody:
		return v, true
	}
	return "", false
}

// ChatRef points at a chat either by public username or by invite hash.
type ChatRef struct {
	Raw        string
	Username   string
	InviteHash string
}

// String returns the reference as the operator typed it.
func (r ChatRef) String() string {
	if r.Raw != "" {
		return r.Raw
	}
	if r.Username != "" {
		return "@" + r.Username
	}
	return "t.me/+" + r.InviteHash
}

var (
	reAtName     = regexp.MustCompile(`^@([a-zA-Z0-9_]{5,32})$`)
	rePublicLink = regexp.MustCompile(`^(?:https?://)?t\.me/([a-zA-Z0-9_]{5,32})/?$`)
	reInviteLink = regexp.MustCompile(`^(?:https?://)?t\.me/(?:\+|joinchat/)([a-zA-Z0-9_-]+)/?$`)
	reNumericID  = regexp.MustCompile(`^-100\d+$`)
	reFolderLink = regexp.MustCompile(`^(?:https?://)?t\.me/addlist/`)
)

// ParseChatLink validates a chat reference typed by the operator.
func ParseChatLink(raw string) (ChatRef, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return ChatRef{}, Invalid("link", "send a chat link or @username")
	case reFolderLink.MatchString(s):
		return ChatRef{}, Invalid("link", "folder links (t.me/addlist) are not supported")
	case reNumericID.MatchString(s):
		return ChatRef{}, Invalid("link", "numeric chat ids cannot be joined directly, send an invite link or @username")
	}
	if m := reAtName.FindStringSubmatch(s); m != nil {
		return ChatRef{Raw: s, Username: m[1]}, nil
	}
	if m := reInviteLink.FindStringSubmatch(s); m != nil {
		return ChatRef{Raw: s, InviteHash: m[1]}, nil
	}
	if m := rePublicLink.FindStringSubmatch(s); m != nil {
		return ChatRef{Raw: s, Username: m[1]}, nil
	}
	return ChatRef{}, Invalid("link", fmt.Sprintf("unrecognised link %q, use @name, t.me/name or an invite link", s))
}

// ParseTarget validates a message recipient: @username or a public t.me link.
func ParseTarget(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if m := reAtName.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if m := rePublicLink.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	return "", Invalid("target", "send the recipient as @username or t.me/username")
}
