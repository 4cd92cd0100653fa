// Package calendar provides proleptic-Gregorian civil date arithmetic used
// by Recall's time-range extraction (§4.2, §4.5): converting Unix
// timestamps to/from year-month-day and computing calendar-aware
// "last month" / "last weekday" ranges without pulling in a timezone
// database dependency.
//
// Grounded on the teacher's schedule.go, which uses the same
// days-since-epoch algorithm (Howard Hinnant's date algorithms) to compute
// scheduled-action run times.
package calendar

import "time"

const secondsPerDay = 86400

// DaysToDate converts days since the Unix epoch to a proleptic-Gregorian
// year/month/day.
func DaysToDate(days int64) (year, month, day int) {
	z := days + 719468
	era := z / 146097
	if z < 0 {
		era = (z - 146096) / 146097
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return int(y), int(m), int(d)
}

// DateToDays converts year/month/day to days since the Unix epoch. Inverse
// of DaysToDate.
func DateToDays(year, month, day int) int64 {
	y := int64(year)
	m := int64(month)
	d := int64(day)
	if m <= 2 {
		y--
	}
	era := y / 400
	if y < 0 {
		era = (y - 399) / 400
	}
	yoe := y - era*400
	var doy int64
	if m > 2 {
		doy = (153*(m-3)+2)/5 + d - 1
	} else {
		doy = (153*(m+9)+2)/5 + d - 1
	}
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// DateToUnix converts a UTC calendar date (midnight) to Unix seconds.
func DateToUnix(year, month, day int) int64 {
	return DateToDays(year, month, day) * secondsPerDay
}

// UnixToDate converts a Unix timestamp (UTC) to year/month/day.
func UnixToDate(unix int64) (year, month, day int) {
	days := unix / secondsPerDay
	if unix%secondsPerDay < 0 {
		days--
	}
	return DaysToDate(days)
}

// StartOfMonth returns the Unix timestamp (UTC midnight) of the first day
// of the month containing unix.
func StartOfMonth(unix int64) int64 {
	y, m, _ := UnixToDate(unix)
	return DateToUnix(y, m, 1)
}

// AddMonths returns the Unix timestamp of the same day-of-month n months
// after unix, clamped to UTC midnight. A day-of-month past the end of the
// target month rolls over into the following month (Jan 31 + 1 month is
// Mar 3, or Mar 2 in a leap year). Used for calendar-month "last
// month"/"next month" semantics rather than a fixed 30-day offset.
func AddMonths(unix int64, n int) int64 {
	y, m, d := UnixToDate(unix)
	total := (y*12 + (m - 1)) + n
	y2 := total / 12
	m2 := total%12 + 1
	if m2 <= 0 {
		m2 += 12
		y2--
	}
	return DateToUnix(y2, m2, d)
}

// LastMonthRange returns [start, end) for "last month" relative to now,
// using calendar-month semantics: now's month minus one, full width.
func LastMonthRange(now int64) (start, end int64) {
	thisMonthStart := StartOfMonth(now)
	start = AddMonths(thisMonthStart, -1)
	end = thisMonthStart
	return
}

// MonthRange returns [start, end) for a specific year/month.
func MonthRange(year, month int) (start, end int64) {
	start = DateToUnix(year, month, 1)
	end = AddMonths(start, 1)
	return
}

// Weekday returns 0=Monday..6=Sunday for the given Unix timestamp, UTC.
func Weekday(unix int64) int {
	days := unix / secondsPerDay
	if unix%secondsPerDay < 0 {
		days--
	}
	return int(((days % 7) + 10) % 7) // epoch day 0 (1970-01-01) was Thursday=3
}

// LastWeekday returns the Unix timestamp (UTC midnight) of the most recent
// occurrence of targetDOW (0=Monday..6=Sunday) strictly before the start of
// now's week. "先週の月曜日" (last week's Monday) with now fixed to a
// Thursday resolves to the Monday of the previous calendar week, not simply
// "7 days before the most recent Monday".
func LastWeekday(now int64, targetDOW int) int64 {
	days := now / secondsPerDay
	if now%secondsPerDay < 0 {
		days--
	}
	curDOW := Weekday(now)
	thisWeekMonday := days - int64(curDOW)
	lastWeekMonday := thisWeekMonday - 7
	return (lastWeekMonday + int64(targetDOW)) * secondsPerDay
}

// MaxRelativeYears caps how far back a relative expression ("N years ago")
// is allowed to reach (§4.2).
const MaxRelativeYears = 10

// Now returns the current time as Unix seconds, UTC. Exists so callers can
// swap in a fixed clock for deterministic tests (§8's calendar-semantics law).
var Now = func() int64 { return time.Now().UTC().Unix() }
