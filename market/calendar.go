// Package market knows the US equities trading calendar: session hours,
// exchange holidays and trading-day arithmetic.
package market

import "time"

// Eastern is the exchange timezone. The IANA database ships with Go so
// the lookup cannot fail on a stock toolchain.
var Eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// TimeRange is an intraday window in exchange-local wall time.
type TimeRange struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// Regular session 9:30-16:00 ET.
var regularHours = []TimeRange{
	{9, 30, 16, 0},
}

// Pre-market window used by the live gap scanner.
var preMarketHours = []TimeRange{
	{4, 0, 9, 30},
}

// IsMarketOpen reports whether the regular session is open now.
func IsMarketOpen() bool {
	return IsMarketOpenAt(time.Now())
}

// IsMarketOpenAt reports whether the regular session is open at t.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(Eastern)
	if !IsTradingDay(t) {
		return false
	}
	return isInTimeRanges(t, regularHours)
}

// IsPreMarketAt reports whether t falls in the pre-market window of a
// trading day.
func IsPreMarketAt(t time.Time) bool {
	t = t.In(Eastern)
	if !IsTradingDay(t) {
		return false
	}
	return isInTimeRanges(t, preMarketHours)
}

// IsTradingDay reports whether the exchange is open on t's date.
func IsTradingDay(t time.Time) bool {
	t = t.In(Eastern)
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !isHoliday(t)
}

// PrevTradingDay returns the last trading day strictly before t's date.
func PrevTradingDay(t time.Time) time.Time {
	d := midnight(t.In(Eastern)).AddDate(0, 0, -1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// NextTradingDay returns the first trading day strictly after t's date.
func NextTradingDay(t time.Time) time.Time {
	d := midnight(t.In(Eastern)).AddDate(0, 0, 1)
	for !IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// TradingDays lists the trading days in [start, end], inclusive on both
// ends, as exchange-local midnights.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := midnight(start.In(Eastern)); !d.After(midnight(end.In(Eastern))); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Eastern)
}

func isInTimeRanges(t time.Time, ranges []TimeRange) bool {
	cur := t.Hour()*60 + t.Minute()
	for _, r := range ranges {
		start := r.StartHour*60 + r.StartMinute
		end := r.EndHour*60 + r.EndMinute
		if cur >= start && cur < end {
			return true
		}
	}
	return false
}

// isHoliday covers the full-day NYSE closures. Early-close half days
// still count as trading days for daily bars.
func isHoliday(t time.Time) bool {
	y, m, d := t.Date()
	for _, h := range holidays(y) {
		hy, hm, hd := h.Date()
		if y == hy && m == hm && d == hd {
			return true
		}
	}
	return false
}

func holidays(year int) []time.Time {
	return []time.Time{
		observed(year, time.January, 1),       // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3), // Washington's Birthday
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday), // Memorial Day
		observed(year, time.June, 19),            // Juneteenth
		observed(year, time.July, 4),             // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),   // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),  // Thanksgiving
		observed(year, time.December, 25),        // Christmas
	}
}

// observed shifts a fixed-date holiday off the weekend: Saturday moves
// to Friday, Sunday moves to Monday.
func observed(year int, month time.Month, day int) time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, Eastern)
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, Eastern)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, Eastern).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday is two days before Easter Sunday (anonymous Gregorian
// computus).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	dd := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - dd - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, Eastern)
	return easter.AddDate(0, 0, -2)
}
