package parser

import (
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

func TestValidateRow(t *testing.T) {
	valid := func() *models.BestsellerRow {
		return &models.BestsellerRow{
			Year: 2021, Month: 4, Rank: 1,
			Category: "소설/시/희곡", Title: "Test Book",
			Price: 16200, StarScore: 4.6, ItemID: "123456",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.BestsellerRow)
		wantErr bool
	}{
		{name: "valid row", mutate: func(*models.BestsellerRow) {}, wantErr: false},
		{name: "absent item id", mutate: func(r *models.BestsellerRow) { r.ItemID = models.NotAvailable }, wantErr: false},
		{name: "malformed item id", mutate: func(r *models.BestsellerRow) { r.ItemID = "12a" }, wantErr: true},
		{name: "bad month", mutate: func(r *models.BestsellerRow) { r.Month = 0 }, wantErr: true},
		{name: "zero rank", mutate: func(r *models.BestsellerRow) { r.Rank = 0 }, wantErr: true},
		{name: "negative price", mutate: func(r *models.BestsellerRow) { r.Price = -1 }, wantErr: true},
		{name: "score too high", mutate: func(r *models.BestsellerRow) { r.StarScore = 5.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := valid()
			tt.mutate(row)
			err := ValidateRow(row)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRow() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateRow(nil); err == nil {
		t.Errorf("ValidateRow(nil) should fail")
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "[소설/시/희곡]", expected: "소설/시/희곡"},
		{input: "  [경제경영]  ", expected: "경제경영"},
		{input: "에세이", expected: "에세이"},
		{input: "[]", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeCategory(tt.input); got != tt.expected {
				t.Errorf("NormalizeCategory(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestItemIDFromHref(t *testing.T) {
	tests := []struct {
		href     string
		expected string
	}{
		{href: "https://www.aladin.co.kr/shop/wproduct.aspx?ItemId=254468327", expected: "254468327"},
		{href: "/shop/wproduct.aspx?ItemId=42&start=we", expected: "42"},
		{href: "/shop/wproduct.aspx?ISBN=8937460750", expected: models.NotAvailable},
		{href: "", expected: models.NotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			if got := ItemIDFromHref(tt.href); got != tt.expected {
				t.Errorf("ItemIDFromHref(%q) = %q, want %q", tt.href, got, tt.expected)
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
		wantErr  bool
	}{
		{name: "thousands separator", input: "16,200원 (10%할인)", expected: 16200},
		{name: "whitespace", input: "  9,000원  ", expected: 9000},
		{name: "no marker", input: "1,234", expected: 1234},
		{name: "empty", input: "", wantErr: true},
		{name: "text", input: "품절", wantErr: true},
		{name: "negative", input: "-100원", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrice(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParsePrice(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseStarScore(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{input: "4.5", expected: 4.5},
		{input: " 0 ", expected: 0},
		{input: "5.0", expected: 5},
		{input: "7.2", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStarScore(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStarScore(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseStarScore(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractListingDefaults(t *testing.T) {
	page := `<html><body>
<div class="ss_book_box"><a class="bo3">Only Title</a></div>
</body></html>`

	rows, errs := ExtractListing(page, 2022, 7)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d, want 1", len(rows))
	}
	want := models.BestsellerRow{
		Year: 2022, Month: 7, Rank: 1,
		Category: models.NotAvailable, Title: "Only Title",
		Price: 0, StarScore: 0, ItemID: models.NotAvailable,
	}
	if rows[0] != want {
		t.Fatalf("row=%+v, want %+v", rows[0], want)
	}

	rows, errs = ExtractListing(`<div class="ss_book_box"></div>`, 2022, 7)
	if len(errs) != 0 || len(rows) != 1 {
		t.Fatalf("rows=%d errs=%v, want 1 row", len(rows), errs)
	}
	if rows[0].Title != models.NotAvailable || rows[0].Category != models.NotAvailable {
		t.Fatalf("expected N/A defaults, got %+v", rows[0])
	}
}

func TestExtractListingSkipsMalformedItems(t *testing.T) {
	page := "<html><body>" +
		bookBox("소설/시/희곡", "First", "111", "16,200원", "4.0") +
		bookBox("에세이", "Broken Price", "222", "품절", "4.0") +
		bookBox("경제경영", "Second", "333", "12,000원", "4.5") +
		bookBox("인문학", "Broken Score", "444", "8,000원", "n/a") +
		bookBox("과학", "Third", "555", "22,500원", "3.5") +
		"</body></html>"

	rows, errs := ExtractListing(page, 2020, 1)
	if len(errs) != 2 {
		t.Fatalf("errors=%d, want 2 (%v)", len(errs), errs)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want 3", len(rows))
	}

	wantTitles := []string{"Second", "Third"}
	for i, title := range wantTitles {
		if rows[i+1].Title != title {
			t.Fatalf("rows[%d].Title=%q, want %q", i+1, rows[i+1].Title, title)
		}
	}
	if rows[0].Title != "First" || rows[0].Rank != 1 {
		t.Fatalf("first row = %+v", rows[0])
	}
	if rows[1].Rank != 3 || rows[2].Rank != 5 {
		t.Fatalf("ranks = %d,%d, want 3,5", rows[1].Rank, rows[2].Rank)
	}
	if rows[2].Price != 22500 || rows[2].ItemID != "555" || rows[2].Category != "과학" {
		t.Fatalf("third row = %+v", rows[2])
	}
}

func TestExtractListingEmptyPage(t *testing.T) {
	rows, errs := ExtractListing("<html><body><p>no bestsellers</p></body></html>", 2020, 1)
	if len(rows) != 0 || len(errs) != 0 {
		t.Fatalf("rows=%d errs=%v, want empty", len(rows), errs)
	}
}

func TestDetailCategory(t *testing.T) {
	tests := []struct {
		name     string
		crumbs   []string
		expected string
	}{
		{name: "three entries", crumbs: []string{"Home", "Fiction", "Novels"}, expected: "Fiction"},
		{name: "two entries", crumbs: []string{"국내도서", " 소설/시/희곡 "}, expected: "소설/시/희곡"},
		{name: "root only", crumbs: []string{"Home"}, expected: models.NotAvailable},
		{name: "none", crumbs: nil, expected: models.NotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetailCategory(detailPage(tt.crumbs...))
			if err != nil {
				t.Fatalf("DetailCategory error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("DetailCategory() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func bookBox(category, title, id, price, score string) string {
	var b strings.Builder
	b.WriteString(`<div class="ss_book_box">`)
	b.WriteString(`<span class="tit_catrgory">[` + category + `]</span>`)
	b.WriteString(`<a class="bo3" href="/shop/wproduct.aspx?ItemId=` + id + `">` + title + `</a>`)
	b.WriteString(`<span class="ss_p2">` + price + `</span>`)
	b.WriteString(`<span class="star_score">` + score + `</span>`)
	b.WriteString(`</div>`)
	return b.String()
}

func detailPage(crumbs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul id="ulCategory"><li>`)
	for _, crumb := range crumbs {
		b.WriteString(`<a href="#">` + crumb + `</a> &gt; `)
	}
	b.WriteString(`</li></ul></body></html>`)
	return b.String()
}
