package pricer

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// renderPost builds the combined broadcast text: an optional header, the
// currency/gold section, the crypto section, a timestamp and an optional
// footnote. Sections with no data are left out entirely.
func renderPost(crypto PriceTable, cryptoOrder []string, currency PriceTable, currencyOrder []string, header, footnote string, now time.Time) string {
	var b strings.Builder

	if header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}

	if section := renderSection("💵 Currencies & Gold", currency, currencyOrder, " T"); section != "" {
		b.WriteString(section)
		b.WriteString("\n")
	}
	if section := renderSection("🪙 Cryptocurrencies", crypto, cryptoOrder, " $"); section != "" {
		b.WriteString(section)
		b.WriteString("\n")
	}

	b.WriteString("🕓 ")
	b.WriteString(now.Format("2006-01-02 15:04"))

	if footnote != "" {
		b.WriteString("\n\n")
		b.WriteString(footnote)
	}

	return b.String()
}

// renderSection renders one titled block of the post. Symbols follow the
// given order; table rows missing from the order list are appended sorted,
// so nothing fetched is silently dropped.
func renderSection(title string, table PriceTable, order []string, unit string) string {
	if len(table) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")

	seen := make(map[string]bool, len(table))
	write := func(symbol string) {
		info, ok := table[symbol]
		if !ok || seen[symbol] {
			return
		}
		seen[symbol] = true
		b.WriteString(info.Symbol)
		b.WriteString(": ")
		b.WriteString(formatPrice(info.Price))
		b.WriteString(unit)
		b.WriteString("\n")
	}

	for _, symbol := range order {
		write(symbol)
	}
	for _, symbol := range slices.Sorted(maps.Keys(table)) {
		write(symbol)
	}

	return b.String()
}

// formatPrice renders a price with thousands separators and at most two
// decimals, dropping the decimals for whole values.
func formatPrice(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimSuffix(strings.TrimRight(s, "0"), ".")

	intPart, fracPart, hasFrac := strings.Cut(s, ".")

	var neg bool
	if strings.HasPrefix(intPart, "-") {
		neg = true
		intPart = intPart[1:]
	}

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	out := b.String()
	if hasFrac {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

// BuildPersonalPost renders a post narrowed to one account's desired
// symbols, falling back to the latest snapshots when a live fetch fails.
// It returns ErrNoLatestData when neither section has anything to show.
func BuildPersonalPost(ctx context.Context, crypto, currency PriceSource, acc *Account) (string, error) {
	var (
		cryptoTable   PriceTable
		currencyTable PriceTable
	)

	if desired := acc.DesiredCryptos(); len(desired) > 0 {
		cryptoTable, _ = fetchWithFallback(ctx, crypto, desired...)
	}
	if desired := acc.DesiredCurrencies(); len(desired) > 0 {
		currencyTable, _ = fetchWithFallback(ctx, currency, desired...)
	}

	if len(cryptoTable) == 0 && len(currencyTable) == 0 {
		return "", ErrNoLatestData
	}

	return renderPost(cryptoTable, acc.DesiredCryptos(), currencyTable, acc.DesiredCurrencies(),
		"", "", time.Now().UTC()), nil
}
