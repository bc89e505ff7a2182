package models

import (
	"fmt"
	"time"
)

// Timeframe bounds an analysis and leaderboard window.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAllTime Timeframe = "allTime"
)

// allTimeStart anchors the allTime window at the Ethereum genesis date.
var allTimeStart = time.Date(2015, 7, 30, 0, 0, 0, 0, time.UTC)

// ParseTimeframe validates a timeframe string from an API path or CLI flag.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeDaily, TimeframeWeekly, TimeframeMonthly, TimeframeAllTime:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("invalid timeframe: %q", s)
}

// WindowStart returns the inclusive lower bound of the timeframe's window
// relative to now.
func (tf Timeframe) WindowStart(now time.Time) time.Time {
	switch tf {
	case TimeframeDaily:
		return now.AddDate(0, 0, -1)
	case TimeframeWeekly:
		return now.AddDate(0, 0, -7)
	case TimeframeMonthly:
		return now.AddDate(0, -1, 0)
	default:
		return allTimeStart
	}
}

func (tf Timeframe) String() string { return string(tf) }
