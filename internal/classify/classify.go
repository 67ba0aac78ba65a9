// Package classify maps provider failures to outcome kinds.
package classify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

// Kind is the classified outcome of one provider call.
type Kind int

const (
	Success Kind = iota
	Throttled
	AlreadyInDesiredState
	PermanentReject
	UnknownError
)

var kindNames = [...]string{"success", "throttled", "already_done", "rejected", "unknown_error"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Succeeded reports whether the kind counts as a success.
func (k Kind) Succeeded() bool {
	return k == Success || k == AlreadyInDesiredState
}

// DetailLimit caps the detail length of unrecognised errors.
const DetailLimit = 50

// Result is the classification of one call.
type Result struct {
	Kind Kind
	// Wait is the provider's suggested backoff for Throttled results.
	Wait time.Duration
	// Code is the provider identifier, e.g. FLOOD_WAIT or USERNAME_OCCUPIED.
	Code   string
	Detail string
	// Status is set when the error implies the account's own state changed.
	Status fleet.Status
}

type rule struct {
	kind   Kind
	detail string
	status fleet.Status
}

var known = map[string]rule{
	"USER_ALREADY_PARTICIPANT": {kind: AlreadyInDesiredState, detail: "already a member"},
	"USER_NOT_PARTICIPANT":     {kind: AlreadyInDesiredState, detail: "not a member"},
	"INVITE_REQUEST_SENT":      {kind: AlreadyInDesiredState, detail: "join request sent"},
	"USERNAME_NOT_MODIFIED":    {kind: AlreadyInDesiredState, detail: "username unchanged"},
	"PASSWORD_MISSING":         {kind: AlreadyInDesiredState, detail: "no password set"},

	"PEER_FLOOD": {kind: Throttled, detail: "peer flood limit"},

	"USERNAME_OCCUPIED":           {kind: PermanentReject, detail: "username is taken"},
	"USERNAME_INVALID":            {kind: PermanentReject, detail: "invalid username"},
	"USERNAME_PURCHASE_AVAILABLE": {kind: PermanentReject, detail: "username is for sale"},
	"USERNAME_NOT_OCCUPIED":       {kind: PermanentReject, detail: "chat not found"},
	"CHANNEL_PRIVATE":             {kind: PermanentReject, detail: "chat is private or access was revoked"},
	"CHANNEL_PUBLIC_GROUP_NA":     {kind: PermanentReject, detail: "chat is private"},
	"CHANNEL_INVALID":             {kind: PermanentReject, detail: "chat not found"},
	"CHAT_INVALID":                {kind: PermanentReject, detail: "chat not found"},
	"PEER_ID_INVALID":             {kind: PermanentReject, detail: "peer not found"},
	"INVITE_HASH_EXPIRED":         {kind: PermanentReject, detail: "invite link expired"},
	"INVITE_HASH_INVALID":         {kind: PermanentReject, detail: "invalid invite link"},
	"INVITE_HASH_EMPTY":           {kind: PermanentReject, detail: "invalid invite link"},
	"CHANNELS_TOO_MUCH":           {kind: PermanentReject, detail: "too many chats joined"},
	"CHAT_ADMIN_REQUIRED":         {kind: PermanentReject, detail: "admin rights required"},
	"CHAT_WRITE_FORBIDDEN":        {kind: PermanentReject, detail: "cannot write in this chat"},
	"USER_BANNED_IN_CHANNEL":      {kind: PermanentReject, detail: "banned in this chat"},
	"USER_IS_BLOCKED":             {kind: PermanentReject, detail: "blocked by the recipient"},
	"YOU_BLOCKED_USER":            {kind: PermanentReject, detail: "recipient is blocked"},
	"USER_PRIVACY_RESTRICTED":     {kind: PermanentReject, detail: "recipient privacy settings"},
	"PASSWORD_HASH_INVALID":       {kind: PermanentReject, detail: "wrong current password"},
	"PASSWORD_REQUIRED":           {kind: PermanentReject, detail: "current password required"},
	"EMAIL_UNCONFIRMED":           {kind: PermanentReject, detail: "recovery email not confirmed"},
	"FIRSTNAME_INVALID":           {kind: PermanentReject, detail: "invalid name"},
	"ABOUT_TOO_LONG":              {kind: PermanentReject, detail: "bio is too long"},
	"PHOTO_INVALID":               {kind: PermanentReject, detail: "invalid photo"},
	"PHOTO_CROP_SIZE_SMALL":       {kind: PermanentReject, detail: "photo is too small"},
	"IMAGE_PROCESS_FAILED":        {kind: PermanentReject, detail: "invalid photo"},
	"MEDIA_EMPTY":                 {kind: PermanentReject, detail: "empty media"},
	"MESSAGE_EMPTY":               {kind: PermanentReject, detail: "empty message"},
	"PHONE_NUMBER_INVALID":        {kind: PermanentReject, detail: "invalid phone number"},
	"PHONE_NUMBER_BANNED":         {kind: PermanentReject, detail: "phone number is banned"},
	"PHONE_NUMBER_UNOCCUPIED":     {kind: PermanentReject, detail: "phone number is not registered"},
	"PHONE_CODE_INVALID":          {kind: PermanentReject, detail: "wrong code"},
	"PHONE_CODE_EXPIRED":          {kind: PermanentReject, detail: "code expired"},
	"PHONE_CODE_EMPTY":            {kind: PermanentReject, detail: "code is empty"},
	"API_ID_INVALID":              {kind: PermanentReject, detail: "invalid api id or hash"},
	"PHONE_NUMBER_FLOOD":          {kind: Throttled, detail: "too many code requests"},

	"AUTH_KEY_UNREGISTERED":      {kind: PermanentReject, detail: "session revoked", status: fleet.StatusInactive},
	"AUTH_KEY_INVALID":           {kind: PermanentReject, detail: "session revoked", status: fleet.StatusInactive},
	"SESSION_REVOKED":            {kind: PermanentReject, detail: "session revoked", status: fleet.StatusInactive},
	"SESSION_EXPIRED":            {kind: PermanentReject, detail: "session expired", status: fleet.StatusInactive},
	"USER_DEACTIVATED":           {kind: PermanentReject, detail: "account deleted", status: fleet.StatusInactive},
	"USER_DEACTIVATED_BAN":       {kind: PermanentReject, detail: "account banned", status: fleet.StatusInactive},
	"FROZEN_METHOD_INVALID":      {kind: PermanentReject, detail: "account frozen", status: fleet.StatusFrozen},
	"FROZEN_PARTICIPANT_MISSING": {kind: PermanentReject, detail: "account frozen", status: fleet.StatusFrozen},
}

var (
	reWait       = regexp.MustCompile(`((?:FLOOD_PREMIUM|FLOOD|SLOWMODE)_WAIT)(?:_(\d+))?`)
	reWaitPhrase = regexp.MustCompile(`(?i)a wait of (\d+) seconds is required`)
	reIdent      = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+\b`)
)

// Classify inspects err. It never panics and never returns an error: anything
// it does not recognise is UnknownError.
func Classify(err error) Result {
	if err == nil {
		return Result{Kind: Success}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Result{Kind: UnknownError, Code: "CANCELLED", Detail: "interrupted"}
	}
	if rpcErr, ok := tgerr.As(err); ok {
		return fromRPC(rpcErr)
	}
	return ClassifyText(err.Error())
}

func fromRPC(e *tgerr.Error) Result {
	if e.Code == 420 || strings.HasSuffix(e.Type, "_WAIT") {
		return throttled(e.Type, e.Argument)
	}
	if r, ok := known[e.Type]; ok {
		return Result{Kind: r.kind, Code: e.Type, Detail: r.detail, Status: r.status}
	}
	return ClassifyText(e.Message)
}

// ClassifyText classifies a raw provider error string.
func ClassifyText(s string) Result {
	s = strings.TrimSpace(s)
	if s == "" {
		return Result{Kind: UnknownError, Detail: "unknown error"}
	}
	if m := reWait.FindStringSubmatch(s); m != nil {
		secs, _ := strconv.Atoi(m[2])
		return throttled(m[1], secs)
	}
	if m := reWaitPhrase.FindStringSubmatch(s); m != nil {
		secs, _ := strconv.Atoi(m[1])
		return throttled("FLOOD_WAIT", secs)
	}
	for _, ident := range reIdent.FindAllString(s, -1) {
		if r, ok := known[ident]; ok {
			return Result{Kind: r.kind, Code: ident, Detail: r.detail, Status: r.status}
		}
	}
	return Result{Kind: UnknownError, Detail: Truncate(s, DetailLimit)}
}

func throttled(code string, secs int) Result {
	if secs < 0 {
		secs = 0
	}
	detail := "rate limited"
	if secs > 0 {
		detail = fmt.Sprintf("rate limited, wait %ds", secs)
	}
	if code == "" {
		code = "FLOOD_WAIT"
	}
	return Result{
		Kind:   Throttled,
		Wait:   time.Duration(secs) * time.Second,
		Code:   code,
		Detail: detail,
	}
}

// Truncate cleans s and caps it at limit runes.
func Truncate(s string, limit int) string {
	return logger.SanitizeLimit(strings.TrimSpace(s), limit)
}
