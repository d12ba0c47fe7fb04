package models

import "time"

// FetcherConfig holds configuration for the page fetcher
type FetcherConfig struct {
	SearchTemplate    string        `json:"search_template"`
	CardSelector      string        `json:"card_selector"`
	NextSelector      string        `json:"next_selector"`
	UserAgent         string        `json:"user_agent"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	DumpPages         bool          `json:"dump_pages"`
}
