package query

import "fmt"

// FormatMinutes renders a duration such as "7h 30m".
func FormatMinutes(total int) string {
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%dh %dm", sign, total/60, total%60)
}

// FormatDelta renders a signed delta; zero and deficits get "+".
func FormatDelta(delta int) string {
	sign := "+"
	if delta < 0 {
		sign = "-"
		delta = -delta
	}
	return fmt.Sprintf("%s%dh %dm", sign, delta/60, delta%60)
}

// DeltaState classifies a day's delta for display.
func DeltaState(delta int) string {
	switch {
	case delta > 0:
		return "deficit"
	case delta < 0:
		return "surplus"
	default:
		return "balanced"
	}
}
