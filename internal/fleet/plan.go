package fleet

import "time"

// Plan is the immutable snapshot a run executes.
type Plan struct {
	OperatorID int64
	Accounts   []Account
	Action     Action
	// Repeat is how many times the action runs per account.
	Repeat    int
	CreatedAt time.Time
}

// NewPlan copies accounts so later changes to the caller's slice do not
// affect the plan.
func NewPlan(operatorID int64, accounts []Account, action Action, repeat int, now time.Time) Plan {
	if repeat < 1 {
		repeat = 1
	}
	cp := make([]Account, len(accounts))
	copy(cp, accounts)
	return Plan{
		OperatorID: operatorID,
		Accounts:   cp,
		Action:     action,
		Repeat:     repeat,
		CreatedAt:  now,
	}
}

// Kind returns the plan's action kind.
func (p Plan) Kind() ActionKind {
	if p.Action == nil {
		return ""
	}
	return p.Action.Kind()
}
