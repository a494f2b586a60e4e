package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

// CurrencyMarker terminates the numeric part of a listing price ("16,200원").
const CurrencyMarker = "원"

var itemIDRe = regexp.MustCompile(`ItemId=(\d+)`)

// ValidateRow ensures the extractor produced a coherent bestseller row.
func ValidateRow(r *models.BestsellerRow) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if r.Year <= 0 {
		return fmt.Errorf("row has invalid year %d", r.Year)
	}
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("row has invalid month %d", r.Month)
	}
	if r.Rank < 1 {
		return fmt.Errorf("row has invalid rank %d", r.Rank)
	}
	if r.Price < 0 {
		return fmt.Errorf("row %q has negative price", r.Title)
	}
	if r.StarScore < 0 || r.StarScore > 5 {
		return fmt.Errorf("row %q has star score %.1f outside [0, 5]", r.Title, r.StarScore)
	}
	if r.ItemID != models.NotAvailable && !models.ValidItemID(r.ItemID) {
		return fmt.Errorf("row %q has malformed item id %q", r.Title, r.ItemID)
	}
	return nil
}

// NormalizeCategory trims whitespace and the enclosing brackets of a label
// such as "[소설/시/희곡]".
func NormalizeCategory(text string) string {
	return strings.Trim(strings.TrimSpace(text), "[]")
}

// ItemIDFromHref extracts the numeric item id from a product link, or
// models.NotAvailable when the link carries none.
func ItemIDFromHref(href string) string {
	match := itemIDRe.FindStringSubmatch(href)
	if match == nil {
		return models.NotAvailable
	}
	return match[1]
}

// ParsePrice reads the whole-unit amount preceding the currency marker and
// drops thousands separators.
func ParsePrice(text string) (int, error) {
	amount, _, _ := strings.Cut(strings.TrimSpace(text), CurrencyMarker)
	amount = strings.TrimSpace(strings.ReplaceAll(amount, ",", ""))
	price, err := strconv.Atoi(amount)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	if price < 0 {
		return 0, fmt.Errorf("parse price %q: negative amount", text)
	}
	return price, nil
}

// ParseStarScore reads a rating in the closed range [0, 5].
func ParseStarScore(text string) (float64, error) {
	score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("parse star score %q: %w", text, err)
	}
	if score < 0 || score > 5 {
		return 0, fmt.Errorf("parse star score %q: outside [0, 5]", text)
	}
	return score, nil
}
