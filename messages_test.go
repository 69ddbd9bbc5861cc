package pricer

import "testing"

func TestTextFor(t *testing.T) {
	tests := []struct {
		name     string
		language string
		id       msgID
		want     string
	}{
		{name: "english", language: "en", id: msgCancelled, want: "Cancelled."},
		{name: "persian", language: "fa", id: msgCancelled, want: "لغو شد."},
		{name: "case insensitive", language: "FA", id: msgCancelled, want: "لغو شد."},
		{name: "unknown language falls back to english", language: "de", id: msgCancelled, want: "Cancelled."},
		{name: "unknown id falls back to the id", language: "en", id: "no_such_text", want: "no_such_text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textFor(tt.language, tt.id); got != tt.want {
				t.Errorf("textFor(%q, %q) = %q, want %q", tt.language, tt.id, got, tt.want)
			}
		})
	}
}

func TestEveryMessageHasBothLanguages(t *testing.T) {
	for id := range texts["en"] {
		if _, ok := texts["fa"][id]; !ok {
			t.Errorf("message %q has no fa translation", id)
		}
	}
	for id := range texts["fa"] {
		if _, ok := texts["en"][id]; !ok {
			t.Errorf("message %q has no en text", id)
		}
	}
}

func TestMsgUsesAccountLanguage(t *testing.T) {
	acc, _ := NewAccount(1, nil)
	// New accounts default to Persian.
	if got := msg(acc, msgWelcome); got != texts["fa"][msgWelcome] {
		t.Errorf("msg = %q, want the fa text", got)
	}

	acc.SetLanguage("en")
	if got := msg(acc, msgWelcome); got != texts["en"][msgWelcome] {
		t.Errorf("msg = %q, want the en text", got)
	}
}
