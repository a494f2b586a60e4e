// Package models defines data structures for the scraper.
package models

import (
	"regexp"
	"time"
)

// NotAvailable marks a missing field value and an unresolved category.
const NotAvailable = "N/A"

var itemIDPattern = regexp.MustCompile(`^\d+$`)

// BestsellerRow is one listed item on one monthly ranking page.
type BestsellerRow struct {
	Year      int     `csv:"year" json:"year"`
	Month     int     `csv:"month" json:"month"`
	Rank      int     `csv:"rank" json:"rank"`
	Category  string  `csv:"category" json:"category"`
	Title     string  `csv:"title" json:"title"`
	Price     int     `csv:"price" json:"price"`
	StarScore float64 `csv:"star_score" json:"star_score"`
	ItemID    string  `csv:"item_id" json:"item_id"`
}

// HasItemID reports whether the row carries a usable numeric item id.
func (r BestsellerRow) HasItemID() bool {
	return ValidItemID(r.ItemID)
}

// ValidItemID reports whether id is a non-empty string of digits.
func ValidItemID(id string) bool {
	return itemIDPattern.MatchString(id)
}

// CategoryResolution is the category read from an item's own detail page.
type CategoryResolution struct {
	ItemID       string `csv:"item_id" json:"item_id"`
	RealCategory string `csv:"real_category" json:"real_category"`
}

// Resolved reports whether the resolution carries a usable category.
func (c CategoryResolution) Resolved() bool {
	return UsableCategory(c.RealCategory)
}

// UsableCategory reports whether a category value is neither empty nor N/A.
func UsableCategory(category string) bool {
	return category != "" && category != NotAvailable
}

// ListingResult holds the overall result of a listing scan.
type ListingResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	ParseErrors  int
	FailedURLs   []string
	ErrorsByType map[string]int
	RequestCount int
	PageCount    int
	EmptyPages   int
}

// EnrichResult holds the outcome of one enrichment run.
type EnrichResult struct {
	// Resolutions in completion order.
	Resolutions []CategoryResolution
	ByID        map[string]string
	Total       int
	Resolved    int
	Failed      int
	Errors      map[string]string
	Duration    time.Duration
}
