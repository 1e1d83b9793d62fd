// Package hanoi computes the "Tower of Hanoi" rotation suffix for a backup
// day. Each day gets a letter determined by the largest power of two that
// divides its ordinal: A cycles every 2 days, B every 4, and so on, giving
// geometrically spaced backup generations out of a fixed number of sets.
package hanoi

import "time"

// Rotate maps a rotation scheme onto a calendar day.
//
// sets is the number of rotation sets (>= 1), firstDay the date of day 1,
// today the day being computed (>= firstDay). Only the date parts are used.
// Returns the day ordinal (1-based) and the suffix letter.
//
// The scan starts at i = sets and walks down; it always terminates because
// every ordinal is divisible by 2^0.
func Rotate(sets int, firstDay, today time.Time) (day int, suffix string) {
	day = daysBetween(firstDay, today) + 1
	for i := sets; i >= 0; i-- {
		if day%(1<<uint(i)) == 0 {
			return day, string(rune('A' + i))
		}
	}
	// Unreachable: day mod 1 == 0 for every day.
	return day, "A"
}

// daysBetween returns the number of whole calendar days from a to b,
// ignoring the time-of-day and timezone components.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	at := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	bt := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(bt.Sub(at) / (24 * time.Hour))
}
