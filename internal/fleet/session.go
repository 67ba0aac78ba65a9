package fleet

import "context"

// SessionProvider opens short-lived sessions against the external network.
type SessionProvider interface {
	Open(ctx context.Context, cred Credential) (Session, error)
}

// Session is one open account connection. Every method returns the provider
// error unchanged so the classifier can inspect it.
type Session interface {
	Self(ctx context.Context) (Profile, error)
	UpdateProfile(ctx context.Context, u ProfileUpdate) error
	SetUsername(ctx context.Context, username string) error
	SetPhoto(ctx context.Context, photo Media) error
	JoinChat(ctx context.Context, chat ChatRef) error
	LeaveChat(ctx context.Context, chat ChatRef) error
	SendMessage(ctx context.Context, target string, msg Message) error
	SetPrivacy(ctx context.Context, key PrivacyKey, value PrivacyValue) error
	SetTwoFactor(ctx context.Context, tf TwoFactor) error
	Close(ctx context.Context) error
}

// Profile is the subset of the account's own user record the engine reads.
type Profile struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// DisplayName joins first and last name.
func (p Profile) DisplayName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// ProfileUpdate lists profile fields to change. Nil fields are untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	About     *string
}
