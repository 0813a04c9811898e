package accounts

import (
	"time"

	"github.com/m3rciful/v2raybot/app/ledger"
)

// Activity counts users by last activity window.
type Activity struct {
	Day, Week, Month, Year, Total int
}

// Stats windows accepted by FilterByActivity.
const (
	WindowDay   = "day"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowYear  = "year"
	WindowAll   = "all"
)

// WindowStart returns the oldest activity time included in window, or the
// zero time for WindowAll and unknown windows.
func WindowStart(window string, now time.Time) time.Time {
	switch window {
	case WindowDay:
		return now.Add(-24 * time.Hour)
	case WindowWeek:
		return now.Add(-7 * 24 * time.Hour)
	case WindowMonth:
		return now.Add(-30 * 24 * time.Hour)
	case WindowYear:
		return now.Add(-365 * 24 * time.Hour)
	}
	return time.Time{}
}

// ActivityOf buckets users by their last activity relative to now.
func ActivityOf(users []ledger.User, now time.Time) Activity {
	a := Activity{Total: len(users)}
	day, week := WindowStart(WindowDay, now), WindowStart(WindowWeek, now)
	month, year := WindowStart(WindowMonth, now), WindowStart(WindowYear, now)
	for _, u := range users {
		seen := u.LastActive
		if seen.IsZero() {
			seen = u.JoinedAt
		}
		if !seen.Before(day) {
			a.Day++
		}
		if !seen.Before(week) {
			a.Week++
		}
		if !seen.Before(month) {
			a.Month++
		}
		if !seen.Before(year) {
			a.Year++
		}
	}
	return a
}

// FilterByActivity keeps users active within window, preserving order.
func FilterByActivity(users []ledger.User, window string, now time.Time) []ledger.User {
	start := WindowStart(window, now)
	if start.IsZero() {
		return users
	}
	out := make([]ledger.User, 0, len(users))
	for _, u := range users {
		if !u.LastActive.Before(start) {
			out = append(out, u)
		}
	}
	return out
}
