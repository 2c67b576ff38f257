package domain

import (
	"fmt"
	"time"
)

// Interval is a candle bucket width
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval5s  Interval = "5s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1s:  time.Second,
	Interval5s:  5 * time.Second,
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
}

// Duration returns the interval width, 0 for unknown intervals
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Millis returns the interval width in milliseconds
func (i Interval) Millis() int64 {
	return intervalDurations[i].Milliseconds()
}

// ParseInterval validates an interval string
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("invalid interval %q", s)
	}
	return iv, nil
}

// Candle is a derived OHLCV bar.
// Invariants: low <= open,close <= high; StartTime + interval == EndTime.
// Forward-filled bars have O==H==L==C and Volume==0.
type Candle struct {
	InstrumentID string   `json:"instrumentId,omitempty"`
	Interval     Interval `json:"interval"`
	StartTime    int64    `json:"startTime"` // epoch millis
	EndTime      int64    `json:"endTime"`
	Open         float64  `json:"open"`
	High         float64  `json:"high"`
	Low          float64  `json:"low"`
	Close        float64  `json:"close"`
	Volume       float64  `json:"volume"`
	Source       string   `json:"source,omitempty"` // computed, alphavantage
}
