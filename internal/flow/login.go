package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/classify"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

// ErrPasswordNeeded is returned by LoginAttempt.SignIn when the account has
// a cloud password.
var ErrPasswordNeeded = errors.New("flow: password needed")

// LoginAttempt is one sign-in in progress. It holds a live connection until
// Finish or Close.
type LoginAttempt interface {
	// SignIn submits the code. It returns ErrPasswordNeeded when the
	// password step is required.
	SignIn(ctx context.Context, code string) error
	Password(ctx context.Context, password string) error
	// Finish returns the signed-in account with its session credential.
	Finish(ctx context.Context) (fleet.Account, error)
	Close()
}

// Authenticator starts sign-ins by sending a login code to phone.
type Authenticator interface {
	Begin(ctx context.Context, apiID int, apiHash, phone string) (LoginAttempt, error)
}

const (
	stepAPIID    = "get_api_id"
	stepAPIHash  = "get_api_hash"
	stepPhone    = "get_phone"
	stepCode     = "get_code"
	stepPassword = "get_password"

	paramAttempt = "attempt"
)

var (
	rePhone   = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
	reAPIHash = regexp.MustCompile(`^[A-Za-z0-9]{10,100}$`)
	reCode    = regexp.MustCompile(`^\d{5,}$`)
	reStrip   = regexp.MustCompile(`[\s\-()]`)
)

// NormalizePhone strips separators and validates the number.
func NormalizePhone(raw string) (string, error) {
	p := reStrip.ReplaceAllString(strings.TrimSpace(raw), "")
	if !rePhone.MatchString(p) {
		return "", fleet.Invalid("phone", "send the number in international format, e.g. +15551234567")
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p, nil
}

// providerInvalid turns a provider failure into a re-prompt.
func providerInvalid(field string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fleet.Invalid(field, classify.Classify(err).Detail)
}

func attempt(s *Session) LoginAttempt {
	a, _ := s.Params[paramAttempt].(LoginAttempt)
	return a
}

func (e *Engine) loginFlow() *Definition {
	return &Definition{
		Kind:  KindLogin,
		Title: "🔑 Add account",
		Steps: []Step{
			{
				Name: stepAPIID,
				Prompt: func(*Session) Prompt {
					return ask("Send the api_id from my.telegram.org.", false)
				},
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					id, err := strconv.Atoi(strings.TrimSpace(in.Text))
					if err != nil || id < 10000 || id > 999999999 {
						return "", fleet.Invalid("api_id", "api_id is a number between 10000 and 999999999")
					}
					s.Params["api_id"] = id
					return "", nil
				},
			},
			{
				Name: stepAPIHash,
				Prompt: func(*Session) Prompt {
					return ask("Send the api_hash.", false)
				},
				Sensitive: true,
				Text: func(_ context.Context, s *Session, in Input) (string, error) {
					hash := strings.TrimSpace(in.Text)
					if !reAPIHash.MatchString(hash) {
						return "", fleet.Invalid("api_hash", "api_hash is 10-100 letters and digits")
					}
					s.Params["api_hash"] = hash
					return "", nil
				},
			},
			{
				Name: stepPhone,
				Prompt: func(*Session) Prompt {
					return ask("Send the phone number with country code, e.g. +15551234567.", false)
				},
				Text: func(ctx context.Context, s *Session, in Input) (string, error) {
					phone, err := NormalizePhone(in.Text)
					if err != nil {
						return "", err
					}
					n, err := e.accounts.CountBy(ctx, fleet.Filter{Phone: phone})
					if err != nil {
						return "", fmt.Errorf("flow: check phone: %w", err)
					}
					if n > 0 {
						return "", fleet.Invalid("phone", "this account is already in the fleet")
					}
					apiID, apiHash := e.apiCredentials(s)
					a, err := e.auth.Begin(ctx, apiID, apiHash, phone)
					if err != nil {
						return "", providerInvalid("phone", err)
					}
					if old := attempt(s); old != nil {
						old.Close()
					}
					s.Params["phone"] = phone
					s.Params[paramAttempt] = a
					logger.Info(ctx, component, "login.code_sent",
						slog.Int64("operator_id", s.OperatorID),
						slog.String("phone", logger.MaskPhone(phone)),
					)
					return "", nil
				},
			},
			{
				Name: stepCode,
				Prompt: func(*Session) Prompt {
					return ask("A login code was sent to the account. Send it here, digits may be separated by spaces.", false)
				},
				Sensitive: true,
				Text: func(ctx context.Context, s *Session, in Input) (string, error) {
					code := reStrip.ReplaceAllString(strings.TrimSpace(in.Text), "")
					if !reCode.MatchString(code) {
						return "", fleet.Invalid("code", "the code has at least 5 digits")
					}
					a := attempt(s)
					if a == nil {
						return stepPhone, nil
					}
					err := a.SignIn(ctx, code)
					switch {
					case errors.Is(err, ErrPasswordNeeded):
						return stepPassword, nil
					case err != nil:
						return "", providerInvalid("code", err)
					}
					return stepDone, nil
				},
			},
			{
				Name: stepPassword,
				Prompt: func(*Session) Prompt {
					return ask("The account has two-step verification. Send its password.", false)
				},
				Sensitive: true,
				Text: func(ctx context.Context, s *Session, in Input) (string, error) {
					pw := strings.TrimSpace(in.Text)
					if pw == "" {
						return "", fleet.Invalid("password", "send the password")
					}
					a := attempt(s)
					if a == nil {
						return stepPhone, nil
					}
					if err := a.Password(ctx, pw); err != nil {
						return "", providerInvalid("password", err)
					}
					return stepDone, nil
				},
			},
		},
		Complete: func(ctx context.Context, s *Session) (Result, error) {
			a := attempt(s)
			if a == nil {
				return Result{}, fleet.Invalid("login", "start again with /login")
			}
			defer a.Close()
			acc, err := a.Finish(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("flow: finish login: %w", err)
			}
			acc.OwnerID = s.OperatorID
			acc.Status = fleet.StatusActive
			acc.CreatedAt = e.opts.Now()
			if err := e.accounts.Insert(ctx, &acc); err != nil {
				return Result{}, fmt.Errorf("flow: save account: %w", err)
			}
			return Result{Login: &acc}, nil
		},
	}
}

func (e *Engine) apiCredentials(s *Session) (int, string) {
	id, _ := s.Params["api_id"].(int)
	hash := s.str("api_hash")
	if id == 0 || hash == "" {
		return e.opts.DefaultAPIID, e.opts.DefaultAPIHash
	}
	return id, hash
}
