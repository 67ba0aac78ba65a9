// Package mtproto opens fleet account sessions over MTProto with gotd.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

// errUnauthorized matches the provider code the classifier maps to an
// inactive account.
var errUnauthorized = errors.New("AUTH_KEY_UNREGISTERED: stored session is not authorized")

// Options tunes the provider. Zero values get defaults.
type Options struct {
	DialTimeout time.Duration
	Lifetime    time.Duration
	// LoginLifetime caps a login connection. It must outlast the flow TTL,
	// or a sign-in waiting at the code step loses its connection.
	LoginLifetime time.Duration
	RequestRate   float64
	RequestBurst  int
	DeviceModel   string
	AppVersion    string
}

func (o *Options) normalize() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 30 * time.Second
	}
	if o.Lifetime <= 0 {
		o.Lifetime = 15 * time.Minute
	}
	if o.LoginLifetime <= 0 {
		o.LoginLifetime = 35 * time.Minute
	}
	o.LoginLifetime = max(o.LoginLifetime, o.Lifetime)
	if o.RequestRate <= 0 {
		o.RequestRate = 10
	}
	if o.RequestBurst <= 0 {
		o.RequestBurst = 1
	}
	if o.DeviceModel == "" {
		o.DeviceModel = "fleetbot"
	}
	if o.AppVersion == "" {
		o.AppVersion = "1.0"
	}
}

func (o Options) dialConfig(apiID int, apiHash, phone string, seed []byte) dialConfig {
	return dialConfig{
		APIID:    apiID,
		APIHash:  apiHash,
		Phone:    phone,
		Seed:     seed,
		Timeout:  o.DialTimeout,
		Lifetime: o.Lifetime,
		Rate:     rate.Limit(o.RequestRate),
		Burst:    o.RequestBurst,
		Device: telegram.DeviceConfig{
			DeviceModel: o.DeviceModel,
			AppVersion:  o.AppVersion,
		},
	}
}

func (o Options) loginConfig(apiID int, apiHash, phone string) dialConfig {
	cfg := o.dialConfig(apiID, apiHash, phone, nil)
	cfg.Lifetime = o.LoginLifetime
	return cfg
}

// Provider implements fleet.SessionProvider.
type Provider struct {
	opts Options
}

var _ fleet.SessionProvider = (*Provider)(nil)

// NewProvider returns a provider with opts.
func NewProvider(opts Options) *Provider {
	opts.normalize()
	return &Provider{opts: opts}
}

// Open connects with the stored credential and verifies it is authorized.
func (p *Provider) Open(ctx context.Context, cred fleet.Credential) (fleet.Session, error) {
	seed, err := DecodeSession(cred.Session)
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", errUnauthorized, err)
	}
	c, err := dial(ctx, p.opts.dialConfig(cred.APIID, cred.APIHash, cred.Phone, seed))
	if err != nil {
		return nil, err
	}
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	if !status.Authorized {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, errUnauthorized
	}
	return &Session{conn: c, accountID: cred.AccountID}, nil
}

// Session is one open account.
type Session struct {
	*conn
	accountID int64
}

var _ fleet.Session = (*Session)(nil)

func profileOf(u *tg.User) fleet.Profile {
	if u == nil {
		return fleet.Profile{}
	}
	return fleet.Profile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}
}

func (s *Session) Self(ctx context.Context) (fleet.Profile, error) {
	if err := s.wait(ctx); err != nil {
		return fleet.Profile{}, err
	}
	u, err := s.client.Self(ctx)
	if err != nil {
		return fleet.Profile{}, err
	}
	return profileOf(u), nil
}

func (s *Session) UpdateProfile(ctx context.Context, u fleet.ProfileUpdate) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	req := &tg.AccountUpdateProfileRequest{}
	if u.FirstName != nil {
		req.SetFirstName(*u.FirstName)
	}
	if u.LastName != nil {
		req.SetLastName(*u.LastName)
	}
	if u.About != nil {
		req.SetAbout(*u.About)
	}
	_, err := s.api.AccountUpdateProfile(ctx, req)
	return err
}

func (s *Session) SetUsername(ctx context.Context, username string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.api.AccountUpdateUsername(ctx, username)
	return err
}

func (s *Session) SetPhoto(ctx context.Context, photo fleet.Media) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	name := photo.FileName
	if name == "" {
		name = "photo.jpg"
	}
	file, err := uploader.NewUploader(s.api).FromBytes(ctx, name, photo.Data)
	if err != nil {
		return err
	}
	req := &tg.PhotosUploadProfilePhotoRequest{}
	req.SetFile(file)
	_, err = s.api.PhotosUploadProfilePhoto(ctx, req)
	return err
}

// resolveChat finds the chat behind a public username.
func (s *Session) resolveChat(ctx context.Context, username string) (tg.ChatClass, error) {
	resolved, err := s.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return nil, err
	}
	for _, ch := range resolved.Chats {
		switch ch.(type) {
		case *tg.Channel, *tg.Chat:
			return ch, nil
		}
	}
	return nil, errors.New("USERNAME_NOT_OCCUPIED: not a group or channel")
}

func (s *Session) JoinChat(ctx context.Context, ref fleet.ChatRef) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if ref.InviteHash != "" {
		_, err := s.api.MessagesImportChatInvite(ctx, ref.InviteHash)
		return err
	}
	chat, err := s.resolveChat(ctx, ref.Username)
	if err != nil {
		return err
	}
	ch, ok := chat.(*tg.Channel)
	if !ok {
		return errors.New("CHANNEL_INVALID: basic groups can only be joined by invite link")
	}
	_, err = s.api.ChannelsJoinChannel(ctx, &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
	return err
}

func (s *Session) LeaveChat(ctx context.Context, ref fleet.ChatRef) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	var chat tg.ChatClass
	if ref.InviteHash != "" {
		invite, err := s.api.MessagesCheckChatInvite(ctx, ref.InviteHash)
		if err != nil {
			return err
		}
		already, ok := invite.(*tg.ChatInviteAlready)
		if !ok {
			return errors.New("USER_NOT_PARTICIPANT: not a member of this chat")
		}
		chat = already.Chat
	} else {
		var err error
		if chat, err = s.resolveChat(ctx, ref.Username); err != nil {
			return err
		}
	}
	switch c := chat.(type) {
	case *tg.Channel:
		_, err := s.api.ChannelsLeaveChannel(ctx, &tg.InputChannel{ChannelID: c.ID, AccessHash: c.AccessHash})
		return err
	case *tg.Chat:
		_, err := s.api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
			ChatID: c.ID,
			UserID: &tg.InputUserSelf{},
		})
		return err
	}
	return errors.New("USER_NOT_PARTICIPANT: not a member of this chat")
}

func (s *Session) SendMessage(ctx context.Context, target string, msg fleet.Message) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	to := message.NewSender(s.api).Resolve("@" + target)
	if msg.Media == nil {
		_, err := to.Text(ctx, msg.Text)
		return err
	}

	m := msg.Media
	name := m.FileName
	if name == "" {
		name = string(m.Kind)
	}
	file, err := uploader.NewUploader(s.api).FromBytes(ctx, name, m.Data)
	if err != nil {
		return err
	}
	var caption []styling.StyledTextOption
	if msg.Text != "" {
		caption = append(caption, styling.Plain(msg.Text))
	}
	if m.Kind == fleet.MediaPhoto {
		_, err = to.Media(ctx, message.UploadedPhoto(file, caption...))
		return err
	}
	doc := message.UploadedDocument(file, caption...).Filename(name)
	if m.MIME != "" {
		doc = doc.MIME(m.MIME)
	}
	_, err = to.Media(ctx, doc)
	return err
}

func privacyKey(k fleet.PrivacyKey) (tg.InputPrivacyKeyClass, error) {
	switch k {
	case fleet.PrivacyPhone:
		return &tg.InputPrivacyKeyPhoneNumber{}, nil
	case fleet.PrivacyLastSeen:
		return &tg.InputPrivacyKeyStatusTimestamp{}, nil
	case fleet.PrivacyProfilePhoto:
		return &tg.InputPrivacyKeyProfilePhoto{}, nil
	case fleet.PrivacyForwards:
		return &tg.InputPrivacyKeyForwards{}, nil
	case fleet.PrivacyCalls:
		return &tg.InputPrivacyKeyPhoneCall{}, nil
	case fleet.PrivacyInvites:
		return &tg.InputPrivacyKeyChatInvite{}, nil
	}
	return nil, fmt.Errorf("mtproto: unknown privacy key %q", k)
}

func privacyRule(v fleet.PrivacyValue) (tg.InputPrivacyRuleClass, error) {
	switch v {
	case fleet.PrivacyEveryone:
		return &tg.InputPrivacyValueAllowAll{}, nil
	case fleet.PrivacyContacts:
		return &tg.InputPrivacyValueAllowContacts{}, nil
	case fleet.PrivacyNobody:
		return &tg.InputPrivacyValueDisallowAll{}, nil
	}
	return nil, fmt.Errorf("mtproto: unknown privacy value %q", v)
}

func (s *Session) SetPrivacy(ctx context.Context, key fleet.PrivacyKey, value fleet.PrivacyValue) error {
	k, err := privacyKey(key)
	if err != nil {
		return err
	}
	r, err := privacyRule(value)
	if err != nil {
		return err
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.api.AccountSetPrivacy(ctx, &tg.AccountSetPrivacyRequest{
		Key:   k,
		Rules: []tg.InputPrivacyRuleClass{r},
	})
	return err
}

func (s *Session) SetTwoFactor(ctx context.Context, tf fleet.TwoFactor) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	opts := auth.UpdatePasswordOptions{Hint: tf.Hint}
	if tf.Current != "" {
		current := tf.Current
		opts.Password = func(context.Context) (string, error) { return current, nil }
	}
	newPassword := tf.New
	if tf.Remove {
		newPassword = ""
	}
	err := s.client.Auth().UpdatePassword(ctx, newPassword, opts)
	if errors.Is(err, auth.ErrPasswordNotProvided) {
		return fmt.Errorf("PASSWORD_REQUIRED: %w", err)
	}
	return err
}

// Close disconnects the account.
func (s *Session) Close(ctx context.Context) error {
	err := s.conn.Close(ctx)
	logger.Debug(ctx, component, "session.close",
		slog.Int64("account_id", s.accountID),
	)
	return err
}
