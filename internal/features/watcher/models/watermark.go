package models

import "time"

// Watermark is the latest listed_at observed for a topic. The zero value
// means the topic has never been observed.
type Watermark struct {
	At    time.Time `json:"at"`
	Known bool      `json:"known"`
}

// NewWatermark returns a known watermark at t.
func NewWatermark(t time.Time) Watermark {
	return Watermark{At: t, Known: true}
}

// Before reports whether t is strictly later than the watermark. An unknown
// watermark is before every timestamp.
func (w Watermark) Before(t time.Time) bool {
	return !w.Known || t.After(w.At)
}

// Max returns the later of w and t, never moving backwards.
func (w Watermark) Max(t time.Time) Watermark {
	if w.Before(t) {
		return NewWatermark(t)
	}
	return w
}

// After reports whether w is strictly later than other.
func (w Watermark) After(other Watermark) bool {
	if !w.Known {
		return false
	}
	return other.Before(w.At)
}
