// Package keyboard builds inline keyboards whose buttons carry raw callback
// data, matched by the registry's callback patterns.
package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes one inline button. URL buttons ignore Data.
type InlineBtn struct {
	Text string
	Data string
	URL  string
}

// Data returns a callback button.
func Data(text, data string) InlineBtn { return InlineBtn{Text: text, Data: data} }

// URL returns a link button.
func URL(text, url string) InlineBtn { return InlineBtn{Text: text, URL: url} }

// Inline returns the telebot button.
func (b InlineBtn) Inline() tele.InlineButton {
	if b.URL != "" {
		return tele.InlineButton{Text: b.Text, URL: b.URL}
	}
	return tele.InlineButton{Text: b.Text, Data: b.Data}
}

// ForceReply returns a markup that forces the user to reply.
func ForceReply() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{ForceReply: true}
}

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons ...InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn. Empty
// rows are skipped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = btn.Inline()
		}
		inline = append(inline, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// InlineButtonsNPerRow splits a flat list of buttons into rows with up to n buttons per row.
// If n <= 1, it behaves like InlineButtons (one per row).
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	return InlineButtonsRows(Chunk(buttons, n)...)
}

// Chunk splits buttons into rows of at most n.
func Chunk(buttons []InlineBtn, n int) [][]InlineBtn {
	if n < 1 {
		n = 1
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := i + n
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return rows
}

// Pager returns the previous/next row for page (1-based) of pages, using
// data(n) as the callback data of page n. It is empty for a single page.
func Pager(page, pages int, prev, next string, data func(n int) string) []InlineBtn {
	var row []InlineBtn
	if page > 1 {
		row = append(row, Data(prev, data(page-1)))
	}
	if page < pages {
		row = append(row, Data(next, data(page+1)))
	}
	return row
}

// Pages returns the page count for total items at size per page, at least 1.
func Pages(total, size int) int {
	if size < 1 || total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// Slice returns the bounds of page (1-based, clamped) within total items.
func Slice(page, size, total int) (from, to, clamped int) {
	pages := Pages(total, size)
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	from = (page - 1) * size
	if from > total {
		from = total
	}
	to = from + size
	if to > total {
		to = total
	}
	return from, to, page
}
