// Package selector implements paginated checkbox selection over an
// operator's accounts.
package selector

import (
	"slices"

	"github.com/m3rciful/fleetbot/internal/fleet"
)

// Policy controls how a toggle changes the selection.
type Policy int

const (
	// Single keeps exactly one selected account.
	Single Policy = iota
	// Multiple toggles accounts in and out of the selection.
	Multiple
	// All selects every candidate without an interactive step.
	All
)

func (p Policy) String() string {
	switch p {
	case Single:
		return "single"
	case Multiple:
		return "multiple"
	case All:
		return "all"
	}
	return "unknown"
}

// Selection is an ordered set of candidate indexes. The zero value is empty.
// Methods never modify the receiver.
type Selection struct {
	order []int
}

// Of builds a selection from indexes, dropping duplicates.
func Of(indexes ...int) Selection {
	var s Selection
	for _, i := range indexes {
		if i >= 0 && !s.Has(i) {
			s.order = append(s.order, i)
		}
	}
	return s
}

// SelectAll returns a selection of every index in [0, n).
func SelectAll(n int) Selection {
	s := Selection{order: make([]int, 0, max(n, 0))}
	for i := 0; i < n; i++ {
		s.order = append(s.order, i)
	}
	return s
}

// Len returns the number of selected indexes.
func (s Selection) Len() int { return len(s.order) }

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool { return len(s.order) == 0 }

// Has reports whether index is selected.
func (s Selection) Has(index int) bool { return slices.Contains(s.order, index) }

// Indexes returns the selected indexes in insertion order.
func (s Selection) Indexes() []int { return slices.Clone(s.order) }

// Equal reports set equality, ignoring order.
func (s Selection) Equal(o Selection) bool {
	if len(s.order) != len(o.order) {
		return false
	}
	for _, i := range s.order {
		if !o.Has(i) {
			return false
		}
	}
	return true
}

// KeepLast truncates the selection to its most recently added index.
func (s Selection) KeepLast() Selection {
	if len(s.order) <= 1 {
		return s
	}
	return Selection{order: []int{s.order[len(s.order)-1]}}
}

// Clamp drops indexes outside [0, n).
func (s Selection) Clamp(n int) Selection {
	out := Selection{}
	for _, i := range s.order {
		if i < n {
			out.order = append(out.order, i)
		}
	}
	return out
}

// Toggle applies one button press. Single replaces the selection with index,
// Multiple adds or removes it. All is fixed at start and ignores toggles.
func Toggle(s Selection, index int, policy Policy) Selection {
	if index < 0 {
		return s
	}
	switch policy {
	case Single:
		return Selection{order: []int{index}}
	case Multiple:
		if pos := slices.Index(s.order, index); pos >= 0 {
			return Selection{order: slices.Delete(slices.Clone(s.order), pos, pos+1)}
		}
		return Selection{order: append(slices.Clone(s.order), index)}
	}
	return s
}

// Proceed resolves the selection against candidates, in candidate order.
func Proceed(s Selection, candidates []fleet.Account) ([]fleet.Account, error) {
	out := make([]fleet.Account, 0, s.Len())
	for i, acc := range candidates {
		if s.Has(i) {
			out = append(out, acc)
		}
	}
	if len(out) == 0 {
		return nil, fleet.ErrSelectionEmpty
	}
	return out, nil
}
