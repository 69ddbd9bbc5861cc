package pricer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
)

// PriceInfo is one row of a price table.
type PriceInfo struct {
	Symbol string
	Name   string
	// Price is quoted in USD for cryptos and in tomans for national
	// currencies and gold.
	Price float64
}

// PriceTable maps symbol to its latest price data.
type PriceTable map[string]PriceInfo

// PriceSource supplies a price table on demand. Fetch may fail; Latest then
// serves the most recent successfully fetched table as a fallback. Name is a
// human-readable source name for notification messages.
type PriceSource interface {
	Fetch(ctx context.Context, symbols ...string) (PriceTable, error)
	Latest() PriceTable
	Name() string
}

// Interchangeable crypto source names accepted by the runtime switch.
const (
	SourceNameCoinGecko     = "coingecko"
	SourceNameCoinMarketCap = "coinmarketcap"
)

// NewCryptoSource constructs one of the interchangeable crypto providers by
// name. The returned source is fully initialized before anyone can observe it.
func NewCryptoSource(name string, cfg Config) (PriceSource, error) {
	switch strings.ToLower(name) {
	case SourceNameCoinGecko:
		return NewCoinGecko(cfg), nil
	case SourceNameCoinMarketCap:
		return NewCoinMarketCap(cfg), nil
	}
	return nil, errm.Wrap(ErrInvalidInput, "unknown crypto source", "name", name)
}

// latestBuffer keeps the most recent successfully fetched table of a source.
type latestBuffer struct {
	mu    sync.RWMutex
	table PriceTable
}

func (b *latestBuffer) set(table PriceTable) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table = table
}

func (b *latestBuffer) get() PriceTable {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table
}

func (b *latestBuffer) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table = nil
}

// filterSymbols narrows a table to the requested symbols. No symbols means
// the whole table.
func filterSymbols(table PriceTable, symbols []string) PriceTable {
	if len(symbols) == 0 {
		return table
	}
	out := make(PriceTable, len(symbols))
	for _, s := range symbols {
		if info, ok := table[s]; ok {
			out[s] = info
		}
	}
	return out
}

func fetchJSON(ctx context.Context, client *http.Client, rawURL string, header http.Header, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errm.Wrap(err, "new request")
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return errm.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errm.New("unexpected status", "status", resp.StatusCode, "body", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errm.Wrap(err, "decode response")
	}
	return nil
}

// geckoIDs maps ticker symbols to CoinGecko coin ids for the symbols the bot
// offers by default. Unknown symbols fall back to the lowercased symbol.
var geckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"SOL":  "solana",
	"TRX":  "tron",
	"DOT":  "polkadot",
	"SHIB": "shiba-inu",
	"LTC":  "litecoin",
}

// CoinGecko serves crypto prices from the public CoinGecko API.
type CoinGecko struct {
	client  *http.Client
	baseURL string
	symbols []string
	latest  latestBuffer
}

func NewCoinGecko(cfg Config) *CoinGecko {
	return &CoinGecko{
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		baseURL: "https://api.coingecko.com/api/v3",
		symbols: cfg.CryptoSymbols,
	}
}

func (g *CoinGecko) Name() string {
	return "CoinGecko"
}

func (g *CoinGecko) Latest() PriceTable {
	return g.latest.get()
}

func (g *CoinGecko) ClearLatest() {
	g.latest.clear()
}

func (g *CoinGecko) Fetch(ctx context.Context, symbols ...string) (PriceTable, error) {
	ids := make([]string, 0, len(g.symbols))
	bySymbol := make(map[string]string, len(g.symbols))
	for _, s := range g.symbols {
		id, ok := geckoIDs[s]
		if !ok {
			id = strings.ToLower(s)
		}
		ids = append(ids, id)
		bySymbol[id] = s
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")

	var raw map[string]map[string]float64
	err := fetchJSON(ctx, g.client, g.baseURL+"/simple/price?"+query.Encode(), nil, &raw)
	if err != nil {
		return nil, errm.Wrap(err, "fetch coingecko")
	}

	table := make(PriceTable, len(raw))
	for id, quote := range raw {
		symbol, ok := bySymbol[id]
		if !ok {
			continue
		}
		table[symbol] = PriceInfo{
			Symbol: symbol,
			Name:   id,
			Price:  quote["usd"],
		}
	}
	if len(table) == 0 {
		return nil, errm.New("empty coingecko response")
	}

	g.latest.set(table)
	return filterSymbols(table, symbols), nil
}

// CoinMarketCap serves crypto prices from the CoinMarketCap pro API.
type CoinMarketCap struct {
	client  *http.Client
	baseURL string
	apiKey  string
	symbols []string
	latest  latestBuffer
}

func NewCoinMarketCap(cfg Config) *CoinMarketCap {
	return &CoinMarketCap{
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		baseURL: "https://pro-api.coinmarketcap.com/v1",
		apiKey:  cfg.CoinMarketCapAPIKey,
		symbols: cfg.CryptoSymbols,
	}
}

func (c *CoinMarketCap) Name() string {
	return "CoinMarketCap"
}

func (c *CoinMarketCap) Latest() PriceTable {
	return c.latest.get()
}

func (c *CoinMarketCap) ClearLatest() {
	c.latest.clear()
}

func (c *CoinMarketCap) Fetch(ctx context.Context, symbols ...string) (PriceTable, error) {
	query := url.Values{}
	query.Set("symbol", strings.Join(c.symbols, ","))
	query.Set("convert", "USD")

	var raw struct {
		Data map[string]struct {
			Name  string `json:"name"`
			Quote map[string]struct {
				Price float64 `json:"price"`
			} `json:"quote"`
		} `json:"data"`
	}

	header := http.Header{}
	header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	header.Set("Accept", "application/json")

	err := fetchJSON(ctx, c.client, c.baseURL+"/cryptocurrency/quotes/latest?"+query.Encode(), header, &raw)
	if err != nil {
		return nil, errm.Wrap(err, "fetch coinmarketcap")
	}

	table := make(PriceTable, len(raw.Data))
	for symbol, data := range raw.Data {
		table[symbol] = PriceInfo{
			Symbol: symbol,
			Name:   data.Name,
			Price:  data.Quote["USD"].Price,
		}
	}
	if len(table) == 0 {
		return nil, errm.New("empty coinmarketcap response")
	}

	c.latest.set(table)
	return filterSymbols(table, symbols), nil
}

// SourceArena serves national currency and gold prices.
type SourceArena struct {
	client  *http.Client
	baseURL string
	token   string
	symbols []string
	latest  latestBuffer
}

func NewSourceArena(cfg Config) *SourceArena {
	return &SourceArena{
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		baseURL: "https://sourcearena.ir/api",
		token:   cfg.SourceArenaToken,
		symbols: cfg.CurrencySymbols,
	}
}

func (s *SourceArena) Name() string {
	return "SourceArena"
}

func (s *SourceArena) Latest() PriceTable {
	return s.latest.get()
}

func (s *SourceArena) ClearLatest() {
	s.latest.clear()
}

func (s *SourceArena) Fetch(ctx context.Context, symbols ...string) (PriceTable, error) {
	var raw struct {
		Data []struct {
			Slug  string  `json:"slug"`
			Name  string  `json:"name"`
			Price float64 `json:"price"`
		} `json:"data"`
	}

	rawURL := fmt.Sprintf("%s/?token=%s&currency", s.baseURL, url.QueryEscape(s.token))
	if err := fetchJSON(ctx, s.client, rawURL, nil, &raw); err != nil {
		return nil, errm.Wrap(err, "fetch sourcearena")
	}

	wanted := make(map[string]bool, len(s.symbols))
	for _, sym := range s.symbols {
		wanted[sym] = true
	}

	table := make(PriceTable, len(s.symbols))
	for _, row := range raw.Data {
		symbol := strings.ToUpper(row.Slug)
		if len(wanted) > 0 && !wanted[symbol] {
			continue
		}
		table[symbol] = PriceInfo{
			Symbol: symbol,
			Name:   row.Name,
			// SourceArena quotes rials, the bot shows tomans.
			Price: row.Price / 10,
		}
	}
	if len(table) == 0 {
		return nil, errm.New("empty sourcearena response")
	}

	s.latest.set(table)
	return filterSymbols(table, symbols), nil
}

// fetchWithFallback fetches a table, falling back to the source's latest good
// snapshot on error. The fetch error comes back alongside the fallback data
// so the caller can log it; ErrNoLatestData with no data means there was
// never a successful fetch.
func fetchWithFallback(ctx context.Context, src PriceSource, symbols ...string) (PriceTable, error) {
	table, err := src.Fetch(ctx, symbols...)
	if err == nil {
		return table, nil
	}

	latest := src.Latest()
	if len(latest) == 0 {
		return nil, errm.Wrap(ErrNoLatestData, "fetch failed", "source", src.Name(), "error", err)
	}
	return filterSymbols(latest, symbols), err
}

var _ = []PriceSource{(*CoinGecko)(nil), (*CoinMarketCap)(nil), (*SourceArena)(nil)}

// Bounded request timeout is a precondition of the PriceSource contract.
const defaultFetchTimeout = 10 * time.Second
