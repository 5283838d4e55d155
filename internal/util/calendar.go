package util

import "time"

// IsWeekday reports whether t falls on Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// LastWeekdayBefore returns midnight UTC of the latest weekday strictly
// before t's calendar day. Exchange holidays are not known here.
func LastWeekdayBefore(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for !IsWeekday(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
