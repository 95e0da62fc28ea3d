package scoring

// Timeline buckets.
const (
	TimelineLow      = "180+ Days (Low priority)"
	TimelineMedium   = "91-180 Days"
	TimelineHigh     = "31-90 Days"
	TimelineElevated = "0-30 Days (Elevated threat)"
)

var timelineOrder = []string{TimelineElevated, TimelineHigh, TimelineMedium, TimelineLow}

// Timeline maps a probability and momentum label to an expected time horizon.
func Timeline(probability int, momentum string) string {
	idx := 0
	switch {
	case probability < 30:
		idx = 3
	case probability < 50:
		idx = 2
	case probability < 70:
		idx = 1
	}

	switch {
	case momentum == MomentumIncreasing && probability > 50:
		idx = 0
	case momentum == MomentumDecreasing && probability < 70 && idx < len(timelineOrder)-1:
		idx++
	}
	return timelineOrder[idx]
}

// Confidence labels.
const (
	ConfidenceHigh   = "High"
	ConfidenceMedium = "Medium"
	ConfidenceLow    = "Low"
)

// Confidence grades a score by signal and source breadth.
func Confidence(signals, sources int) string {
	switch {
	case signals >= 20 && sources >= 8:
		return ConfidenceHigh
	case signals >= 10 && sources >= 5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
