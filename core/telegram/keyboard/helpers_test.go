package keyboard

import "testing"

func TestInlineButtonsNPerRow(t *testing.T) {
	m := InlineButtonsNPerRow([]InlineBtn{Data("a", "1"), Data("b", "2"), Data("c", "3")}, 2)
	if len(m.InlineKeyboard) != 2 || len(m.InlineKeyboard[0]) != 2 || len(m.InlineKeyboard[1]) != 1 {
		t.Fatalf("unexpected layout %+v", m.InlineKeyboard)
	}
	if m.InlineKeyboard[1][0].Data != "3" {
		t.Fatalf("raw data lost: %+v", m.InlineKeyboard[1][0])
	}
}

func TestURLButton(t *testing.T) {
	b := URL("Join", "https://t.me/example").Inline()
	if b.URL != "https://t.me/example" || b.Data != "" {
		t.Fatalf("unexpected button %+v", b)
	}
}

func TestPaging(t *testing.T) {
	if Pages(0, 5) != 1 || Pages(10, 5) != 2 || Pages(11, 5) != 3 {
		t.Fatal("Pages")
	}
	from, to, page := Slice(9, 5, 11)
	if from != 10 || to != 11 || page != 3 {
		t.Fatalf("Slice = %d %d %d", from, to, page)
	}
	row := Pager(2, 3, "<", ">", func(n int) string { return "p_" + string(rune('0'+n)) })
	if len(row) != 2 || row[0].Data != "p_1" || row[1].Data != "p_3" {
		t.Fatalf("Pager = %+v", row)
	}
	if len(Pager(1, 1, "<", ">", func(int) string { return "" })) != 0 {
		t.Fatal("single page must have no pager")
	}
}
