// Package parser extracts bestseller rows and detail categories from markup.
package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

const (
	itemSelector       = "div.ss_book_box"
	categorySelector   = "span.tit_catrgory"
	titleSelector      = "a.bo3"
	priceSelector      = "span.ss_p2"
	starSelector       = "span.star_score"
	breadcrumbSelector = "ul#ulCategory li a"
)

// ExtractListing parses one monthly listing page. Rank is the 1-based position
// of the item block on the page. A malformed block is skipped and reported in
// the returned errors; it never stops extraction of the remaining blocks.
func ExtractListing(pageText string, year, month int) ([]models.BestsellerRow, []error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageText))
	if err != nil {
		return nil, []error{fmt.Errorf("parse listing document: %w", err)}
	}

	var (
		rows []models.BestsellerRow
		errs []error
	)
	doc.Find(itemSelector).Each(func(i int, s *goquery.Selection) {
		row, err := extractItem(s, year, month, i+1)
		if err != nil {
			errs = append(errs, fmt.Errorf("rank %d: %w", i+1, err))
			return
		}
		rows = append(rows, row)
	})
	return rows, errs
}

func extractItem(s *goquery.Selection, year, month, rank int) (row models.BestsellerRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract item: %v", r)
		}
	}()

	row = models.BestsellerRow{
		Year:     year,
		Month:    month,
		Rank:     rank,
		Category: models.NotAvailable,
		Title:    models.NotAvailable,
		ItemID:   models.NotAvailable,
	}

	if category := s.Find(categorySelector).First(); category.Length() > 0 {
		row.Category = NormalizeCategory(category.Text())
	}

	if title := s.Find(titleSelector).First(); title.Length() > 0 {
		row.Title = strings.TrimSpace(title.Text())
		if href, ok := title.Attr("href"); ok {
			row.ItemID = ItemIDFromHref(href)
		}
	}

	if price := s.Find(priceSelector).First(); price.Length() > 0 {
		if row.Price, err = ParsePrice(price.Text()); err != nil {
			return models.BestsellerRow{}, err
		}
	}

	if star := s.Find(starSelector).First(); star.Length() > 0 {
		if row.StarScore, err = ParseStarScore(star.Text()); err != nil {
			return models.BestsellerRow{}, err
		}
	}

	return row, nil
}

// DetailCategory returns the second breadcrumb entry of a detail page. The
// first entry is always the store root and carries no information, so a page
// with fewer than two entries yields models.NotAvailable.
func DetailCategory(pageText string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageText))
	if err != nil {
		return models.NotAvailable, fmt.Errorf("parse detail document: %w", err)
	}

	links := doc.Find(breadcrumbSelector)
	if links.Length() < 2 {
		return models.NotAvailable, nil
	}
	category := strings.TrimSpace(links.Eq(1).Text())
	if category == "" {
		return models.NotAvailable, nil
	}
	return category, nil
}
