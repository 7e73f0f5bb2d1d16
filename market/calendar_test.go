package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Eastern)
}

func TestIsMarketOpenAt(t *testing.T) {
	// Tuesday 2024-03-05
	assert.True(t, IsMarketOpenAt(et(2024, 3, 5, 9, 30)))
	assert.True(t, IsMarketOpenAt(et(2024, 3, 5, 15, 59)))
	assert.False(t, IsMarketOpenAt(et(2024, 3, 5, 16, 0)), "close is exclusive")
	assert.False(t, IsMarketOpenAt(et(2024, 3, 5, 9, 29)))
	// Saturday
	assert.False(t, IsMarketOpenAt(et(2024, 3, 9, 10, 0)))
}

func TestIsMarketOpenAtConvertsTimezone(t *testing.T) {
	// 13:30 UTC == 9:30 ET during daylight saving
	utc := time.Date(2024, 7, 10, 13, 30, 0, 0, time.UTC)
	assert.True(t, IsMarketOpenAt(utc))
}

func TestIsPreMarketAt(t *testing.T) {
	assert.True(t, IsPreMarketAt(et(2024, 3, 5, 8, 0)))
	assert.False(t, IsPreMarketAt(et(2024, 3, 5, 3, 59)))
	assert.False(t, IsPreMarketAt(et(2024, 3, 5, 9, 30)))
}

func TestHolidays2024(t *testing.T) {
	closed := []time.Time{
		et(2024, 1, 1, 12, 0),   // New Year's Day
		et(2024, 1, 15, 12, 0),  // MLK Day
		et(2024, 2, 19, 12, 0),  // Washington's Birthday
		et(2024, 3, 29, 12, 0),  // Good Friday
		et(2024, 5, 27, 12, 0),  // Memorial Day
		et(2024, 6, 19, 12, 0),  // Juneteenth
		et(2024, 7, 4, 12, 0),   // Independence Day
		et(2024, 9, 2, 12, 0),   // Labor Day
		et(2024, 11, 28, 12, 0), // Thanksgiving
		et(2024, 12, 25, 12, 0), // Christmas
	}
	for _, d := range closed {
		assert.False(t, IsTradingDay(d), d.Format("2006-01-02"))
	}
	assert.True(t, IsTradingDay(et(2024, 11, 29, 12, 0)), "day after Thanksgiving is a half day, still open")
}

func TestObservedHolidayShifts(t *testing.T) {
	// July 4 2026 is a Saturday, observed Friday July 3
	assert.False(t, IsTradingDay(et(2026, 7, 3, 12, 0)))
	// Christmas 2022 was a Sunday, observed Monday Dec 26
	assert.False(t, IsTradingDay(et(2022, 12, 26, 12, 0)))
}

func TestPrevNextTradingDay(t *testing.T) {
	// Monday 2024-03-04 -> previous is Friday 2024-03-01
	prev := PrevTradingDay(et(2024, 3, 4, 10, 0))
	assert.Equal(t, et(2024, 3, 1, 0, 0), prev)

	// Friday 2024-03-29 is Good Friday; Thursday's next day is Monday
	next := NextTradingDay(et(2024, 3, 28, 10, 0))
	assert.Equal(t, et(2024, 4, 1, 0, 0), next)
}

func TestTradingDays(t *testing.T) {
	// Week containing Good Friday 2024: Mon 3/25 .. Sun 3/31
	days := TradingDays(et(2024, 3, 25, 0, 0), et(2024, 3, 31, 0, 0))
	assert.Len(t, days, 4)
	assert.Equal(t, et(2024, 3, 28, 0, 0), days[3])
}
