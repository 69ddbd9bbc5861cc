package pricer

import "testing"

func TestSymbolKeyboard(t *testing.T) {
	kb := symbolKeyboard([]string{"USD", "EUR"}, []string{"BTC", "ETH", "ADA", "SOL"})

	rows := kb.ReplyKeyboard
	// Two currency symbols in one row, four cryptos in two rows, plus the
	// cancel row.
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if len(rows[0]) != 2 {
		t.Errorf("first row = %d buttons, want 2", len(rows[0]))
	}
	if len(rows[1]) != maxButtonsInRow {
		t.Errorf("second row = %d buttons, want %d", len(rows[1]), maxButtonsInRow)
	}

	last := rows[len(rows)-1]
	if len(last) != 1 || last[0].Text != "/cancel" {
		t.Errorf("last row = %+v, want the cancel button", last)
	}
	if !kb.ResizeKeyboard {
		t.Error("keyboard is not resized")
	}
}

func TestRemoveKeyboard(t *testing.T) {
	if !removeKeyboard().RemoveKeyboard {
		t.Error("markup does not remove the keyboard")
	}
}
