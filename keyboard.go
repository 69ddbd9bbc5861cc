package pricer

import (
	tele "gopkg.in/telebot.v4"
)

const maxButtonsInRow = 3

// symbolKeyboard builds a reply keyboard with a button per symbol. A tap
// sends the symbol as a plain message, so taps and typed symbols go through
// the same text path. Each group starts on a fresh row.
func symbolKeyboard(groups ...[]string) *tele.ReplyMarkup {
	kb := &tele.ReplyMarkup{ResizeKeyboard: true}

	var rows []tele.Row
	for _, symbols := range groups {
		var row []tele.Btn
		for _, s := range symbols {
			row = append(row, kb.Text(s))
			if len(row) == maxButtonsInRow {
				rows = append(rows, kb.Row(row...))
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, kb.Row(row...))
		}
	}
	rows = append(rows, kb.Row(kb.Text("/cancel")))

	kb.Reply(rows...)
	return kb
}

// removeKeyboard clears a previously sent reply keyboard.
func removeKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
