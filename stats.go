package pricer

import "time"

// Stats classifies accounts by how recently they interacted with the bot.
// Buckets overlap: an interaction from today is also inside this week and
// this month.
type Stats struct {
	Total     int
	Today     int
	Yesterday int
	ThisWeek  int
	ThisMonth int
}

// bucketInteractions classifies last-interaction times relative to now.
// Yesterday is computed by calendar date of now minus one day, so the first
// day of a month (or year) counts interactions from the last day of the
// previous one.
func bucketInteractions(now time.Time, times []time.Time) Stats {
	var (
		stats     = Stats{Total: len(times)}
		yesterday = now.AddDate(0, 0, -1)

		nowYear, nowWeek = now.ISOWeek()
	)

	for _, t := range times {
		if t.IsZero() {
			continue
		}
		t = t.UTC()

		if sameDay(t, now) {
			stats.Today++
		} else if sameDay(t, yesterday) {
			stats.Yesterday++
		}

		year, week := t.ISOWeek()
		if year == nowYear && week == nowWeek {
			stats.ThisWeek++
		}
		if t.Year() == now.Year() && t.Month() == now.Month() {
			stats.ThisMonth++
		}
	}

	return stats
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
