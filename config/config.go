package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	ListingURL string // format string taking year and month
	DetailURL  string // format string taking the item id
	StartYear  int
	EndYear    int
	EndMonth   int // last month scanned in EndYear

	Concurrency  int
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	PaceMin      time.Duration
	PaceMax      time.Duration
	PageDelay    time.Duration
	PageJitter   time.Duration

	OutputDir      string
	BestsellerFile string
	CategoryFile   string
	CleanedFile    string
	OutputFormat   string // csv, json, or dual

	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	CacheSize          int
	ProgressEvery      int

	UserAgent   string
	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns conservative defaults for the bookstore target.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:         "https://www.aladin.co.kr/shop/common/wbest.aspx?BranchType=1&CID=0&Year=%d&Month=%d&Week=1&BestType=MonthlyBest&SearchSubBarcode=",
		DetailURL:          "https://www.aladin.co.kr/shop/wproduct.aspx?ItemId=%s",
		StartYear:          2020,
		EndYear:            2025,
		EndMonth:           10,
		Concurrency:        15,
		Timeout:            15 * time.Second,
		MaxAttempts:        3,
		RetryBackoff:       2 * time.Second,
		PaceMin:            500 * time.Millisecond,
		PaceMax:            1500 * time.Millisecond,
		PageDelay:          500 * time.Millisecond,
		PageJitter:         time.Second,
		OutputDir:          "output",
		BestsellerFile:     "aladin.csv",
		CategoryFile:       "category_mapping.csv",
		CleanedFile:        "aladin_final_cleaned.csv",
		OutputFormat:       "csv",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		CacheSize:          100000,
		ProgressEvery:      100,
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		Verbose:            false,
	}
}

// BestsellerPath is the location of the listing-stage table.
func (c *Config) BestsellerPath() string {
	return filepath.Join(c.OutputDir, c.BestsellerFile)
}

// CategoryPath is the location of the enrichment-stage table.
func (c *Config) CategoryPath() string {
	return filepath.Join(c.OutputDir, c.CategoryFile)
}

// CleanedPath is the location of the reconciled table.
func (c *Config) CleanedPath() string {
	return filepath.Join(c.OutputDir, c.CleanedFile)
}

// ListingPageURL renders the listing address for one month.
func (c *Config) ListingPageURL(year, month int) string {
	return fmt.Sprintf(c.ListingURL, year, month)
}

// DetailPageURL renders the detail address for one item.
func (c *Config) DetailPageURL(itemID string) string {
	return fmt.Sprintf(c.DetailURL, itemID)
}

// LastMonth returns the final month scanned for year.
func (c *Config) LastMonth(year int) int {
	if year == c.EndYear {
		return c.EndMonth
	}
	return 12
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateTemplate("listing URL", c.ListingURL, 2); err != nil {
		return err
	}
	if err := validateTemplate("detail URL", c.DetailURL, 1); err != nil {
		return err
	}
	if c.StartYear <= 0 || c.EndYear <= 0 {
		return fmt.Errorf("start year and end year must be positive")
	}
	if c.StartYear > c.EndYear {
		return fmt.Errorf("start year (%d) cannot exceed end year (%d)", c.StartYear, c.EndYear)
	}
	if c.EndMonth < 1 || c.EndMonth > 12 {
		return fmt.Errorf("end month must be between 1 and 12")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.PaceMin < 0 || c.PaceMax < 0 {
		return fmt.Errorf("pacing delay cannot be negative")
	}
	if c.PaceMin > c.PaceMax {
		return fmt.Errorf("pacing min (%s) cannot exceed pacing max (%s)", c.PaceMin, c.PaceMax)
	}
	if c.PageDelay < 0 || c.PageJitter < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.BestsellerFile == "" || c.CategoryFile == "" || c.CleanedFile == "" {
		return fmt.Errorf("output file names cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func validateTemplate(name, tmpl string, verbs int) error {
	if tmpl == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if got := strings.Count(tmpl, "%") - 2*strings.Count(tmpl, "%%"); got != verbs {
		return fmt.Errorf("%s must contain %d format verbs, found %d", name, verbs, got)
	}
	parsed, err := url.Parse(strings.ReplaceAll(tmpl, "%", ""))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
