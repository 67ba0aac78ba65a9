package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/flow"
)

// Authenticator signs new accounts in with a login code.
type Authenticator struct {
	opts Options
}

var _ flow.Authenticator = (*Authenticator)(nil)

// NewAuthenticator returns an authenticator that dials like the provider.
func NewAuthenticator(opts Options) *Authenticator {
	opts.normalize()
	return &Authenticator{opts: opts}
}

// Begin connects with a fresh session and asks the network to send a code.
func (a *Authenticator) Begin(ctx context.Context, apiID int, apiHash, phone string) (flow.LoginAttempt, error) {
	c, err := dial(ctx, a.opts.loginConfig(apiID, apiHash, phone))
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mtproto: unexpected sent code %T", sent)
	}
	logger.Info(ctx, component, "login.code_sent",
		slog.String("phone", logger.MaskPhone(phone)),
		slog.String("code_type", fmt.Sprintf("%T", code.Type)),
	)
	return &attempt{conn: c, phone: phone, apiID: apiID, apiHash: apiHash, hash: code.PhoneCodeHash}, nil
}

// attempt is one sign-in in progress.
type attempt struct {
	*conn
	phone   string
	apiID   int
	apiHash string
	hash    string

	mu       sync.Mutex
	signedIn bool
}

func (a *attempt) SignIn(ctx context.Context, code string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := a.client.Auth().SignIn(ctx, a.phone, code, a.hash)
	var signUp *auth.SignUpRequired
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return flow.ErrPasswordNeeded
	case errors.As(err, &signUp):
		return errors.New("PHONE_NUMBER_UNOCCUPIED: the number has no account")
	case err != nil:
		return err
	}
	a.mu.Lock()
	a.signedIn = true
	a.mu.Unlock()
	return nil
}

func (a *attempt) Password(ctx context.Context, password string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.client.Auth().Password(ctx, password); err != nil {
		return err
	}
	a.mu.Lock()
	a.signedIn = true
	a.mu.Unlock()
	return nil
}

// Finish reads the signed-in profile and packs the session credential.
func (a *attempt) Finish(ctx context.Context) (fleet.Account, error) {
	a.mu.Lock()
	ok := a.signedIn
	a.mu.Unlock()
	if !ok {
		return fleet.Account{}, errors.New("mtproto: finish before sign in")
	}
	self, err := a.client.Self(ctx)
	if err != nil {
		return fleet.Account{}, err
	}
	sess, err := a.storage.credential()
	if err != nil {
		return fleet.Account{}, err
	}
	p := profileOf(self)
	logger.Info(ctx, component, "login.complete",
		slog.String("phone", logger.MaskPhone(a.phone)),
		slog.Int64("user_id", p.ID),
	)
	return fleet.Account{
		Phone:    a.phone,
		Session:  sess,
		APIID:    a.apiID,
		APIHash:  a.apiHash,
		Name:     p.DisplayName(),
		Username: p.Username,
	}, nil
}

// Close disconnects; it is safe to call more than once.
func (a *attempt) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.conn.Close(ctx)
}
