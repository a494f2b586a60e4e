// Package reconcile merges listing rows with detail-page categories.
package reconcile

import (
	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

// Stats summarises one reconciliation.
type Stats struct {
	Input                int
	Updated              int
	Dropped              int
	Output               int
	DuplicateResolutions int
}

// Reconcile left-joins rows against resolutions on item id. A usable
// resolution replaces the guessed category; anything else keeps the guess.
// Rows whose final category is empty or N/A are dropped. Only the first
// resolution seen for an id takes part in the join, so duplicates never
// multiply rows. Output keeps input order.
func Reconcile(rows []models.BestsellerRow, resolutions []models.CategoryResolution) ([]models.BestsellerRow, Stats) {
	stats := Stats{Input: len(rows)}

	byID := make(map[string]string, len(resolutions))
	for _, res := range resolutions {
		if _, ok := byID[res.ItemID]; ok {
			stats.DuplicateResolutions++
			continue
		}
		byID[res.ItemID] = res.RealCategory
	}

	out := make([]models.BestsellerRow, 0, len(rows))
	for _, row := range rows {
		if row.HasItemID() {
			if resolved, ok := byID[row.ItemID]; ok && models.UsableCategory(resolved) {
				if resolved != row.Category {
					stats.Updated++
				}
				row.Category = resolved
			}
		}
		if !models.UsableCategory(row.Category) {
			stats.Dropped++
			continue
		}
		out = append(out, row)
	}

	stats.Output = len(out)
	return out, stats
}
