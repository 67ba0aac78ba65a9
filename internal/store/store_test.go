package store

import (
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/fleetbot/internal/fleet"
	"github.com/m3rciful/fleetbot/internal/runner"
)

func TestWhereClause(t *testing.T) {
	where, args, err := whereClause(fleet.Filter{})
	if err != nil || where != "" || len(args) != 0 {
		t.Fatalf("empty filter = %q %v %v", where, args, err)
	}

	where, args, err = whereClause(fleet.Filter{OwnerID: 7, Status: fleet.StatusActive, IDs: []int64{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if where != " WHERE owner_id = ? AND status = ? AND id IN (?, ?, ?)" {
		t.Fatalf("where = %q", where)
	}
	if len(args) != 5 || args[0] != int64(7) || args[1] != "active" || args[4] != int64(3) {
		t.Fatalf("args = %v", args)
	}
}

func TestSetClause(t *testing.T) {
	if set, _ := setClause(fleet.Patch{}); set != "" {
		t.Fatalf("empty patch rendered %q", set)
	}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	set, args := setClause(fleet.Patch{
		Name:          fleet.StringPtr("Ann"),
		Status:        fleet.StatusPtr(fleet.StatusInactive),
		LastCheckedAt: &now,
	})
	if set != "name = $1, status = $2, last_checked_at = $3" {
		t.Fatalf("set = %q", set)
	}
	if len(args) != 3 || args[1] != "inactive" {
		t.Fatalf("args = %v", args)
	}
	if strings.Contains(set, "session") {
		t.Fatalf("nil session must not be written")
	}
}

func TestEntryFromReport(t *testing.T) {
	rep := runner.Report{
		RunID:     "run-1",
		Action:    fleet.ActionSend,
		Counters:  runner.Counters{Total: 3, Processed: 2, Success: 1, Failed: 1, Sent: 4},
		Cancelled: true,
	}
	e := EntryFromReport(9, rep)
	if e.OperatorID != 9 || e.Action != string(fleet.ActionSend) || e.Sent != 4 || !e.Cancelled || e.Total != 3 {
		t.Fatalf("entry = %+v", e)
	}
}
