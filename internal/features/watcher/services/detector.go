package services

import (
	"sort"

	"market-watch/internal/features/watcher/models"
)

// Detect splits a topic's parsed records into those newer than wm and
// returns them oldest first, along with the advanced watermark.
//
// Records without a parsed listed_at are ignored entirely. While wm is
// unknown the batch only establishes a baseline and nothing is fresh. A
// record equal to the watermark is not fresh; equal timestamps on distinct
// records above it are all fresh.
func Detect(records []models.ListingRecord, wm models.Watermark) ([]models.ListingRecord, models.Watermark) {
	updated := wm
	var fresh []models.ListingRecord

	for _, record := range records {
		if record.ListedAt == nil {
			continue
		}
		at := *record.ListedAt
		if wm.Known && wm.Before(at) {
			fresh = append(fresh, record)
		}
		updated = updated.Max(at)
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].ListedAt.Before(*fresh[j].ListedAt)
	})

	return fresh, updated
}
