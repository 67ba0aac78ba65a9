package selector

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/core/telegram/keyboard"
	"github.com/m3rciful/fleetbot/internal/callback"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

// PageSize is the default number of accounts per page.
const PageSize = 10

// Item is one visible candidate.
type Item struct {
	Index    int
	Label    string
	Status   fleet.Status
	Selected bool
}

// View is one rendered page of the selector.
type View struct {
	Items      []Item
	Page       int
	Pages      int
	Total      int
	Selected   int
	HasPrev    bool
	HasNext    bool
	CanProceed bool
}

// Page returns the visible slice for page. Out-of-range pages are clamped.
func Page(candidates []fleet.Account, sel Selection, page, size int) View {
	if size <= 0 {
		size = PageSize
	}
	total := len(candidates)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	page = min(max(page, 0), pages-1)

	start := page * size
	end := min(start+size, total)
	items := make([]Item, 0, end-start)
	for i := start; i < end; i++ {
		items = append(items, Item{
			Index:    i,
			Label:    candidates[i].Label(),
			Status:   candidates[i].Status,
			Selected: sel.Has(i),
		})
	}
	selected := sel.Clamp(total).Len()
	return View{
		Items:      items,
		Page:       page,
		Pages:      pages,
		Total:      total,
		Selected:   selected,
		HasPrev:    page > 0,
		HasNext:    page < pages-1,
		CanProceed: selected > 0,
	}
}

// Text returns the header shown above the keyboard.
func (v View) Text(title string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Accounts: %d, selected: %d", v.Total, v.Selected)
	if v.Pages > 1 {
		fmt.Fprintf(&b, ", page %d/%d", v.Page+1, v.Pages)
	}
	return b.String()
}

func btn(text string, t callback.Token) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: text, Unique: callback.Unique, Data: t.Encode()}
}

// Markup renders the page as an inline keyboard: one row per account, a
// navigation row, and the proceed and cancel rows.
func Markup(v View, policy Policy) *tele.ReplyMarkup {
	rows := make([][]keyboard.InlineBtn, 0, len(v.Items)+3)
	for _, it := range v.Items {
		mark := "⬜"
		if it.Selected {
			mark = "✅"
		}
		text := fmt.Sprintf("%s %d. %s %s", mark, it.Index+1, it.Label, it.Status.Icon())
		rows = append(rows, []keyboard.InlineBtn{btn(text, callback.Toggle(it.Index))})
	}

	var nav []keyboard.InlineBtn
	if v.HasPrev {
		nav = append(nav, btn("⬅️", callback.Page(v.Page-1)))
	}
	if v.Pages > 1 {
		nav = append(nav, btn(fmt.Sprintf("%d/%d", v.Page+1, v.Pages), callback.Of(callback.OpNoop)))
	}
	if v.HasNext {
		nav = append(nav, btn("➡️", callback.Page(v.Page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	if policy == Multiple && v.Selected < v.Total {
		rows = append(rows, []keyboard.InlineBtn{btn("☑️ Select all", callback.Of(callback.OpAll))})
	}
	if v.CanProceed {
		rows = append(rows, []keyboard.InlineBtn{
			btn(fmt.Sprintf("✅ Confirm (%d selected)", v.Selected), callback.Of(callback.OpProceed)),
		})
	}
	rows = append(rows, []keyboard.InlineBtn{btn("❌ Cancel", callback.Of(callback.OpCancel))})
	return keyboard.InlineButtonsRows(rows...)
}

// ParseNumbers parses typed account numbers such as "1,3-5" into zero-based
// indexes. Numbers are 1-based and must not exceed n.
func ParseNumbers(s string, n int) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fleet.Invalid("accounts", "send account numbers like 1,3-5")
	}
	seen := make(map[int]bool)
	var out []int
	add := func(num int) error {
		if num < 1 || num > n {
			return fleet.Invalid("accounts", fmt.Sprintf("number %d is out of range 1-%d", num, n))
		}
		if !seen[num] {
			seen[num] = true
			out = append(out, num-1)
		}
		return nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fleet.Invalid("accounts", fmt.Sprintf("%q is not a number", part))
		}
		if !isRange {
			if err := add(a); err != nil {
				return nil, err
			}
			continue
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil || b < a {
			return nil, fleet.Invalid("accounts", fmt.Sprintf("%q is not a valid range", part))
		}
		for num := a; num <= b; num++ {
			if err := add(num); err != nil {
				return nil, err
			}
		}
	}
	if len(out) == 0 {
		return nil, fleet.Invalid("accounts", "send account numbers like 1,3-5")
	}
	return out, nil
}
