package pricer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{5, "5"},
		{1234, "1,234"},
		{1234567, "1,234,567"},
		{50000.5, "50,000.5"},
		{0.12, "0.12"},
		{0.1, "0.1"},
		{2.50, "2.5"},
		{-1234.5, "-1,234.5"},
		{999.999, "1,000"}, // rounded to two decimals
	}
	for _, tt := range tests {
		if got := formatPrice(tt.in); got != tt.want {
			t.Errorf("formatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderPost(t *testing.T) {
	now := time.Date(2025, 6, 18, 12, 30, 0, 0, time.UTC)
	crypto := PriceTable{
		"BTC": {Symbol: "BTC", Price: 50000},
		"ETH": {Symbol: "ETH", Price: 2500},
	}
	currency := PriceTable{
		"USD": {Symbol: "USD", Price: 60000},
	}

	post := renderPost(crypto, []string{"ETH", "BTC"}, currency, []string{"USD"},
		"HEADER", "FOOTNOTE", now)

	if !strings.HasPrefix(post, "HEADER") {
		t.Errorf("header missing:\n%s", post)
	}
	if !strings.HasSuffix(post, "FOOTNOTE") {
		t.Errorf("footnote missing:\n%s", post)
	}
	if !strings.Contains(post, "2025-06-18 12:30") {
		t.Errorf("timestamp missing:\n%s", post)
	}

	// Section order: currencies before cryptos; symbol order follows the
	// given order list.
	if strings.Index(post, "USD") > strings.Index(post, "BTC") {
		t.Errorf("currency section not first:\n%s", post)
	}
	if strings.Index(post, "ETH") > strings.Index(post, "BTC") {
		t.Errorf("symbol order not honored:\n%s", post)
	}
}

func TestRenderPostSkipsEmptySections(t *testing.T) {
	now := time.Now().UTC()

	post := renderPost(PriceTable{"BTC": {Symbol: "BTC", Price: 1}}, nil, nil, nil, "", "", now)
	if strings.Contains(post, "Currencies") {
		t.Errorf("empty currency section rendered:\n%s", post)
	}
	if !strings.Contains(post, "BTC") {
		t.Errorf("crypto section missing:\n%s", post)
	}
}

func TestRenderSectionAppendsUnordered(t *testing.T) {
	table := PriceTable{
		"BTC": {Symbol: "BTC", Price: 1},
		"XYZ": {Symbol: "XYZ", Price: 2},
	}
	// XYZ is not in the order list but must still appear.
	section := renderSection("title", table, []string{"BTC"}, " $")
	if !strings.Contains(section, "XYZ") {
		t.Errorf("unordered symbol dropped:\n%s", section)
	}
	if strings.Count(section, "BTC") != 1 {
		t.Errorf("symbol rendered twice:\n%s", section)
	}
}

func TestBuildPersonalPost(t *testing.T) {
	crypto := &fakeSource{name: "crypto", table: PriceTable{
		"BTC": {Symbol: "BTC", Price: 50000},
		"ETH": {Symbol: "ETH", Price: 2500},
	}}
	currency := &fakeSource{name: "currency", table: PriceTable{
		"USD": {Symbol: "USD", Price: 60000},
	}}

	acc, _ := NewAccount(1, nil)
	if err := acc.ToggleDesiredCrypto("BTC"); err != nil {
		t.Fatal(err)
	}

	post, err := BuildPersonalPost(context.Background(), crypto, currency, acc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(post, "BTC") {
		t.Errorf("desired symbol missing:\n%s", post)
	}
	if strings.Contains(post, "ETH") {
		t.Errorf("undesired symbol present:\n%s", post)
	}
	if strings.Contains(post, "USD") {
		t.Errorf("unselected currency section present:\n%s", post)
	}
}

func TestBuildPersonalPostNoData(t *testing.T) {
	crypto := &fakeSource{name: "crypto"}
	currency := &fakeSource{name: "currency"}

	acc, _ := NewAccount(1, nil)

	// No desired symbols at all: nothing to show.
	_, err := BuildPersonalPost(context.Background(), crypto, currency, acc)
	if err == nil {
		t.Fatal("expected error with nothing selected")
	}
}
