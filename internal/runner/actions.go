package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/fleetbot/internal/fleet"
)

// apply runs one repetition of the plan's action for the account at idx and
// returns the account fields to persist when it succeeds.
func apply(ctx context.Context, sess fleet.Session, plan fleet.Plan, idx, rep int, now time.Time) (fleet.Patch, error) {
	switch a := plan.Action.(type) {
	case fleet.SetName:
		name, err := valueAt(a.Names, idx, "name")
		if err != nil {
			return fleet.Patch{}, err
		}
		first, last := splitName(name)
		if err := sess.UpdateProfile(ctx, fleet.ProfileUpdate{FirstName: &first, LastName: &last}); err != nil {
			return fleet.Patch{}, err
		}
		return fleet.Patch{Name: fleet.StringPtr(name)}, nil

	case fleet.SetUsername:
		username, err := valueAt(a.Usernames, idx, "username")
		if err != nil {
			return fleet.Patch{}, err
		}
		if err := sess.SetUsername(ctx, username); err != nil {
			return fleet.Patch{}, err
		}
		return fleet.Patch{Username: fleet.StringPtr(username)}, nil

	case fleet.SetBio:
		bio := a.Bio
		return fleet.Patch{}, sess.UpdateProfile(ctx, fleet.ProfileUpdate{About: &bio})

	case fleet.SetPhoto:
		return fleet.Patch{}, sess.SetPhoto(ctx, a.Photo)

	case fleet.SetTwoFactor:
		return fleet.Patch{}, sess.SetTwoFactor(ctx, a.TwoFactor)

	case fleet.SetPrivacy:
		return fleet.Patch{}, sess.SetPrivacy(ctx, a.Key, a.Value)

	case fleet.JoinChat:
		return fleet.Patch{}, sess.JoinChat(ctx, a.Chat)

	case fleet.LeaveChat:
		return fleet.Patch{}, sess.LeaveChat(ctx, a.Chat)

	case fleet.SendMessages:
		if rep >= len(a.Messages) {
			return fleet.Patch{}, fmt.Errorf("runner: no message for repetition %d", rep+1)
		}
		return fleet.Patch{}, sess.SendMessage(ctx, a.Target, a.Messages[rep])

	case fleet.CheckHealth:
		profile, err := sess.Self(ctx)
		if err != nil {
			return fleet.Patch{}, err
		}
		active := fleet.StatusActive
		p := fleet.Patch{Status: &active, LastCheckedAt: &now}
		if name := profile.DisplayName(); name != "" {
			p.Name = fleet.StringPtr(name)
		}
		p.Username = fleet.StringPtr(profile.Username)
		return p, nil
	}
	return fleet.Patch{}, fmt.Errorf("runner: unsupported action %T", plan.Action)
}

func valueAt(values []string, idx int, what string) (string, error) {
	if idx < 0 || idx >= len(values) {
		return "", fmt.Errorf("runner: no %s for account %d", what, idx+1)
	}
	return values[idx], nil
}

// splitName puts everything before the first space into the first name.
func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}
