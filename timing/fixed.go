package timing

import (
	"strconv"
	"time"
)

// Fixed sleeps for the same duration every cycle regardless of waiting time.
type Fixed time.Duration

// CalculateSleepTime returns the fixed interval.
func (f Fixed) CalculateSleepTime(time.Duration) time.Duration {
	return time.Duration(f)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
