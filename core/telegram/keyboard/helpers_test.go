package keyboard

import "testing"

func TestChunk(t *testing.T) {
	btns := []InlineBtn{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}, {Text: "e"}}

	rows := Chunk(btns, 2)
	if len(rows) != 3 || len(rows[0]) != 2 || len(rows[2]) != 1 {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if rows[2][0].Text != "e" {
		t.Fatalf("last button = %q", rows[2][0].Text)
	}

	if rows := Chunk(btns, 0); len(rows) != len(btns) {
		t.Fatalf("n=0 should give one button per row, got %d rows", len(rows))
	}
	if rows := Chunk(nil, 3); len(rows) != 0 {
		t.Fatalf("empty input gave %d rows", len(rows))
	}
}

func TestInlineButtonsRows(t *testing.T) {
	m := InlineButtonsRows(
		[]InlineBtn{{Text: "Yes", Unique: "fleet", Data: "c"}, {Text: "No", Unique: "fleet", Data: "x"}},
		[]InlineBtn{{Text: "Back", Unique: "fleet", Data: "b"}},
	)
	if len(m.InlineKeyboard) != 2 || len(m.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout: %+v", m.InlineKeyboard)
	}
	if got := m.InlineKeyboard[0][1]; got.Text != "No" || got.Unique != "fleet" || got.Data != "x" {
		t.Fatalf("unexpected button: %+v", got)
	}
}
