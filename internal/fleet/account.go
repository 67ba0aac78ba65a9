// Package fleet holds the domain model shared by the bulk-operation engine:
// accounts, actions, plans and the collaborator interfaces they run against.
package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/m3rciful/fleetbot/core/logger"
)

// Status is the lifecycle state of a managed account.
type Status string

const (
	// StatusActive marks an account whose session is usable.
	StatusActive Status = "active"
	// StatusInactive marks an account whose session was revoked or expired.
	StatusInactive Status = "inactive"
	// StatusFrozen marks an account restricted by the provider.
	StatusFrozen Status = "frozen"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusFrozen:
		return true
	}
	return false
}

// Icon returns a short marker used in account listings.
func (s Status) Icon() string {
	switch s {
	case StatusActive:
		return "🟢"
	case StatusFrozen:
		return "🧊"
	default:
		return "🔴"
	}
}

// Account is one managed external session.
type Account struct {
	ID            int64      `db:"id"`
	Phone         string     `db:"phone"`
	Session       string     `db:"session"`
	OwnerID       int64      `db:"owner_id"`
	APIID         int        `db:"api_id"`
	APIHash       string     `db:"api_hash"`
	Name          string     `db:"name"`
	Username      string     `db:"username"`
	Status        Status     `db:"status"`
	CreatedAt     time.Time  `db:"created_at"`
	LastCheckedAt *time.Time `db:"last_checked_at"`
}

// Label returns a display name that never exposes the full phone number.
func (a Account) Label() string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = logger.MaskPhone(a.Phone)
	}
	if a.Username != "" {
		return name + " (@" + a.Username + ")"
	}
	return name
}

// Credential returns what the session provider needs to open the account.
func (a Account) Credential() Credential {
	return Credential{
		AccountID: a.ID,
		Phone:     a.Phone,
		APIID:     a.APIID,
		APIHash:   a.APIHash,
		Session:   a.Session,
	}
}

// Credential is the opaque material used to open a session.
type Credential struct {
	AccountID int64
	Phone     string
	APIID     int
	APIHash   string
	Session   string
}

// Filter narrows account lookups. Zero fields are ignored.
type Filter struct {
	OwnerID int64
	Status  Status
	Phone   string
	IDs     []int64
}

// Patch lists account fields to change. Nil fields are left untouched.
type Patch struct {
	Name          *string
	Username      *string
	Status        *Status
	Session       *string
	LastCheckedAt *time.Time
}

// Empty reports whether the patch carries no changes.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Username == nil && p.Status == nil && p.Session == nil && p.LastCheckedAt == nil
}

// AccountStore persists accounts.
type AccountStore interface {
	Find(ctx context.Context, f Filter) ([]Account, error)
	Insert(ctx context.Context, a *Account) error
	UpdateOne(ctx context.Context, id int64, p Patch) error
	DeleteOne(ctx context.Context, id int64) error
	CountBy(ctx context.Context, f Filter) (int, error)
}

// StringPtr returns a pointer to s for use in patches.
func StringPtr(s string) *string { return &s }

// StatusPtr returns a pointer to s for use in patches.
func StatusPtr(s Status) *Status { return &s }
