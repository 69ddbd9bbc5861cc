package pricer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze"
	tele "gopkg.in/telebot.v4"
)

func TestParseAmounts(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []float64
		wantErr bool
	}{
		{name: "single", in: "10", want: []float64{10}},
		{name: "multiple", in: "10 2.5 0.001", want: []float64{10, 2.5, 0.001}},
		{name: "extra spaces", in: "  1   2  ", want: []float64{1, 2}},
		{name: "empty", in: "", wantErr: true},
		{name: "not a number", in: "ten", wantErr: true},
		{name: "mixed", in: "1 two", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmounts(tt.in)
			if tt.wantErr {
				if !errm.Is(err, ErrInvalidInput) {
					t.Fatalf("error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("amounts = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("amounts = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestPriceInUSD(t *testing.T) {
	crypto := PriceTable{
		"BTC": {Symbol: "BTC", Price: 50000},
	}
	currency := PriceTable{
		"USD": {Symbol: "USD", Price: 60000},  // tomans
		"EUR": {Symbol: "EUR", Price: 66000},  // tomans
	}

	tests := []struct {
		symbol string
		want   float64
		ok     bool
	}{
		{symbol: "BTC", want: 50000, ok: true},
		{symbol: "USD", want: 1, ok: true},
		{symbol: "EUR", want: 1.1, ok: true},
		{symbol: "DOGE"},
	}

	for _, tt := range tests {
		got, ok := priceInUSD(tt.symbol, crypto, currency)
		if ok != tt.ok {
			t.Errorf("priceInUSD(%q) ok = %v, want %v", tt.symbol, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("priceInUSD(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}

func TestPriceInUSDWithoutUSDRow(t *testing.T) {
	currency := PriceTable{"EUR": {Symbol: "EUR", Price: 66000}}
	if _, ok := priceInUSD("EUR", nil, currency); ok {
		t.Fatal("currency price resolved without a USD row")
	}
}

// stubTeleContext records replies; only the methods the handlers touch are
// implemented.
type stubTeleContext struct {
	tele.Context
	text string
	sent []string
}

func (c *stubTeleContext) Text() string { return c.text }

func (c *stubTeleContext) Send(what any, _ ...any) error {
	if s, ok := what.(string); ok {
		c.sent = append(c.sent, s)
	}
	return nil
}

// memAdminStore is an in-memory AdminStore for tests.
type memAdminStore struct {
	ids     []int64
	admins  []AccountRecord
	premium []AccountRecord
	ever    []AccountRecord

	queryField string
	queryValue any
}

func (s *memAdminStore) GetAllAccountIDs(context.Context) ([]int64, error) {
	return s.ids, nil
}

func (s *memAdminStore) GetSpecialAccounts(_ context.Context, field string, value any, _ int64) ([]AccountRecord, error) {
	s.queryField, s.queryValue = field, value
	return s.admins, nil
}

func (s *memAdminStore) GetPremiumAccounts(context.Context, time.Time) ([]AccountRecord, error) {
	return s.premium, nil
}

func (s *memAdminStore) GetPossiblePremiumAccounts(context.Context) ([]AccountRecord, error) {
	return s.ever, nil
}

func testBot(store AdminStore) *Bot {
	return &Bot{
		store: store,
		cfg: Config{
			FetchTimeout:    time.Second,
			CryptoSymbols:   []string{"BTC"},
			CurrencySymbols: []string{"USD"},
		},
		log: logze.New(logze.NewConfig()),
	}
}

func testAccount(t *testing.T, mode Mode) *Account {
	t.Helper()
	acc, err := NewAccount(42, nil)
	if err != nil {
		t.Fatal(err)
	}
	if mode > ModeNormal {
		acc.SetMode(mode)
	}
	return acc
}

// A bot whose scheduler is not attached yet must answer gracefully, not
// crash the handler.
func TestHandlersWithoutScheduler(t *testing.T) {
	b := testBot(&memAdminStore{})
	c := &stubTeleContext{}

	if err := b.onGet(c, testAccount(t, ModeNormal)); !errm.Is(err, ErrNoLatestData) {
		t.Fatalf("onGet error = %v, want ErrNoLatestData", err)
	}
	if err := b.startPosting(c, "5"); !errm.Is(err, ErrNoLatestData) {
		t.Fatalf("startPosting error = %v, want ErrNoLatestData", err)
	}
	if err := b.onStopPosting(c, testAccount(t, ModeAdmin)); !errm.Is(err, ErrNoLatestData) {
		t.Fatalf("onStopPosting error = %v, want ErrNoLatestData", err)
	}
	if _, err := b.equalize([]float64{1}, "BTC", testAccount(t, ModeNormal)); !errm.Is(err, ErrNoLatestData) {
		t.Fatalf("equalize error = %v, want ErrNoLatestData", err)
	}
}

func TestOnAdmins(t *testing.T) {
	store := &memAdminStore{admins: []AccountRecord{
		{ChatID: 1, Username: "alice", Mode: int(ModeAdmin)},
		{ChatID: 2, Mode: int(ModeAdmin)},
	}}
	b := testBot(store)
	c := &stubTeleContext{}

	if err := b.onAdmins(c, testAccount(t, ModeAdmin)); !errm.Is(err, ErrUnauthorized) {
		t.Fatalf("admin-mode caller error = %v, want ErrUnauthorized", err)
	}

	if err := b.onAdmins(c, testAccount(t, ModeGod)); err != nil {
		t.Fatal(err)
	}
	if store.queryField != "mode" || store.queryValue != int(ModeAdmin) {
		t.Errorf("query = %q=%v, want mode=%d", store.queryField, store.queryValue, int(ModeAdmin))
	}
	reply := c.sent[len(c.sent)-1]
	if !strings.Contains(reply, "@alice (1)") || !strings.Contains(reply, "2") {
		t.Errorf("reply = %q, want both admins listed", reply)
	}
}

func TestOnPremium(t *testing.T) {
	store := &memAdminStore{
		premium: []AccountRecord{{ChatID: 7, Username: "carol"}},
		ever:    []AccountRecord{{ChatID: 7}, {ChatID: 8}},
	}
	b := testBot(store)
	c := &stubTeleContext{}

	if err := b.onPremium(c, testAccount(t, ModeNormal)); !errm.Is(err, ErrUnauthorized) {
		t.Fatalf("normal caller error = %v, want ErrUnauthorized", err)
	}

	if err := b.onPremium(c, testAccount(t, ModeAdmin)); err != nil {
		t.Fatal(err)
	}
	reply := c.sent[len(c.sent)-1]
	if !strings.Contains(reply, "1 active, 2 ever") || !strings.Contains(reply, "@carol") {
		t.Errorf("reply = %q", reply)
	}
}

func TestSendPostFlow(t *testing.T) {
	store := &memAdminStore{ids: []int64{1, 2, 3}}
	b := testBot(store)

	var delivered []int64
	b.deliver = func(chatID int64, text string) error {
		if chatID == 2 {
			return errm.New("Forbidden: bot was blocked by the user")
		}
		delivered = append(delivered, chatID)
		return nil
	}

	acc := testAccount(t, ModeAdmin)
	c := &stubTeleContext{}
	if err := b.onSendPost(c, acc); err != nil {
		t.Fatal(err)
	}
	if acc.State() != StateSendPost {
		t.Fatalf("state = %v, want StateSendPost", acc.State())
	}

	c.text = "maintenance tonight"
	if err := b.onText(c, acc); err != nil {
		t.Fatal(err)
	}
	if acc.State() != StateNone {
		t.Errorf("state = %v, want StateNone after delivery", acc.State())
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered = %v, want chat 1 and 3", delivered)
	}
	reply := c.sent[len(c.sent)-1]
	if !strings.Contains(reply, "2 of 3") {
		t.Errorf("reply = %q, want the delivered count", reply)
	}

	// Only admins may enter or finish the flow.
	mortal := testAccount(t, ModeNormal)
	if err := b.onSendPost(c, mortal); !errm.Is(err, ErrUnauthorized) {
		t.Fatalf("normal caller error = %v, want ErrUnauthorized", err)
	}
}
