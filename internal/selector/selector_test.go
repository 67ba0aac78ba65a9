package selector

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/m3rciful/fleetbot/internal/callback"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

func accounts(n int) []fleet.Account {
	out := make([]fleet.Account, n)
	for i := range out {
		out[i] = fleet.Account{ID: int64(i + 1), Name: fmt.Sprintf("acc %d", i+1), Status: fleet.StatusActive}
	}
	return out
}

func TestToggleMultipleIsInvolution(t *testing.T) {
	start := Of(0, 2, 5)
	for _, i := range []int{0, 1, 2, 5, 9} {
		got := Toggle(Toggle(start, i, Multiple), i, Multiple)
		if !got.Equal(start) {
			t.Fatalf("toggle %d twice: %v, want %v", i, got.Indexes(), start.Indexes())
		}
	}
	if start.Len() != 3 {
		t.Fatal("Toggle modified its input")
	}
}

func TestToggleSingleKeepsOne(t *testing.T) {
	sel := Of(1, 2, 3)
	for _, i := range []int{0, 4, 4, 7} {
		sel = Toggle(sel, i, Single)
		if sel.Len() != 1 || !sel.Has(i) {
			t.Fatalf("single toggle %d: %v", i, sel.Indexes())
		}
	}
}

func TestSelectAllScenario(t *testing.T) {
	sel := SelectAll(3)
	if !slices.Equal(sel.Indexes(), []int{0, 1, 2}) {
		t.Fatalf("all = %v", sel.Indexes())
	}
	if got := Toggle(sel, 1, All); !got.Equal(sel) {
		t.Fatalf("toggle under all changed the selection: %v", got.Indexes())
	}
}

func TestKeepLast(t *testing.T) {
	sel := Toggle(Toggle(Of(), 4, Multiple), 2, Multiple)
	if got := sel.KeepLast().Indexes(); !slices.Equal(got, []int{2}) {
		t.Fatalf("keep last = %v", got)
	}
}

func TestProceed(t *testing.T) {
	cands := accounts(4)
	if _, err := Proceed(Of(), cands); !errors.Is(err, fleet.ErrSelectionEmpty) {
		t.Fatalf("empty proceed err = %v", err)
	}
	got, err := Proceed(Of(3, 0), cands)
	if err != nil {
		t.Fatalf("proceed: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 4 {
		t.Fatalf("proceed = %+v", got)
	}
	if _, err := Proceed(Of(9), cands); !errors.Is(err, fleet.ErrSelectionEmpty) {
		t.Fatalf("stale index proceed err = %v", err)
	}
}

func TestPageNavigation(t *testing.T) {
	cands := accounts(23)
	v := Page(cands, Of(), 0, PageSize)
	if len(v.Items) != 10 || v.HasPrev || !v.HasNext || v.CanProceed || v.Pages != 3 {
		t.Fatalf("first page = %+v", v)
	}
	v = Page(cands, Of(21), 7, PageSize)
	if v.Page != 2 || len(v.Items) != 3 || !v.HasPrev || v.HasNext || !v.CanProceed {
		t.Fatalf("last page = %+v", v)
	}
	if !v.Items[1].Selected || v.Items[1].Index != 21 {
		t.Fatalf("selected marker = %+v", v.Items[1])
	}
}

func TestMarkupButtons(t *testing.T) {
	v := Page(accounts(12), Of(0), 0, PageSize)
	m := Markup(v, Multiple)
	var texts []string
	for _, row := range m.InlineKeyboard {
		for _, b := range row {
			texts = append(texts, b.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	for _, want := range []string{"✅ 1. acc 1", "⬜ 2. acc 2", "➡️", "✅ Confirm (1 selected)", "❌ Cancel"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("markup missing %q:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "⬅️") {
		t.Fatal("first page must not offer a previous button")
	}

	empty := Markup(Page(accounts(2), Of(), 0, PageSize), Single)
	for _, row := range empty.InlineKeyboard {
		for _, b := range row {
			if strings.Contains(b.Text, "Confirm") {
				t.Fatal("confirm offered with an empty selection")
			}
			if b.Unique != callback.Unique {
				t.Fatalf("button %q has unique %q", b.Text, b.Unique)
			}
		}
	}
}

func TestParseNumbers(t *testing.T) {
	got, err := ParseNumbers("1, 3-5,3", 6)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !slices.Equal(got, []int{0, 2, 3, 4}) {
		t.Fatalf("parse = %v", got)
	}
	for _, in := range []string{"", "0", "7", "a", "5-2", "2-9"} {
		if _, err := ParseNumbers(in, 6); err == nil {
			t.Fatalf("ParseNumbers(%q) expected error", in)
		}
	}
}
