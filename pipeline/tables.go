package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

// ResolutionColumns is the column order of the category mapping table.
var ResolutionColumns = []string{"item_id", "real_category"}

// ErrMissingColumn is returned when a table lacks a required column.
var ErrMissingColumn = errors.New("table: missing column")

// SaveBestsellers writes rows to a fresh CSV (or JSONL, by extension) table.
func SaveBestsellers(path string, rows []models.BestsellerRow) (err error) {
	var writer OutputWriter
	if isJSONL(path) {
		writer, err = NewJSONWriter(path)
	} else {
		writer, err = NewCSVWriter(path)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return writer.Write(rows)
}

// LoadBestsellers reads a table written by SaveBestsellers or CSVWriter. The
// leading index column is ignored; missing item ids load as N/A.
func LoadBestsellers(path string) ([]models.BestsellerRow, error) {
	if isJSONL(path) {
		return loadBestsellersJSONL(path)
	}

	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	cols, err := columnIndex(header, BestsellerColumns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rows := make([]models.BestsellerRow, 0, len(records))
	for i, rec := range records {
		row, err := decodeBestseller(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SaveResolutions writes the category mapping table without an index column.
func SaveResolutions(path string, resolutions []models.CategoryResolution) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mapping file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(utf8BOM); err != nil {
		return fmt.Errorf("write mapping bom: %w", err)
	}
	writer := csv.NewWriter(f)
	if err := writer.Write(ResolutionColumns); err != nil {
		return fmt.Errorf("write mapping header: %w", err)
	}
	for _, res := range resolutions {
		if err := writer.Write([]string{res.ItemID, res.RealCategory}); err != nil {
			return fmt.Errorf("write mapping record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush mapping: %w", err)
	}
	return f.Close()
}

// LoadResolutions reads a category mapping table. Duplicate ids are kept as
// written; the reconciler decides which entry wins.
func LoadResolutions(path string) ([]models.CategoryResolution, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	cols, err := columnIndex(header, ResolutionColumns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]models.CategoryResolution, 0, len(records))
	for _, rec := range records {
		out = append(out, models.CategoryResolution{
			ItemID:       normalizeID(field(rec, cols["item_id"])),
			RealCategory: strings.TrimSpace(field(rec, cols["real_category"])),
		})
	}
	return out, nil
}

// UniqueItemIDs returns the valid item ids of rows in first-seen order.
func UniqueItemIDs(rows []models.BestsellerRow) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if !row.HasItemID() {
			continue
		}
		if _, ok := seen[row.ItemID]; ok {
			continue
		}
		seen[row.ItemID] = struct{}{}
		ids = append(ids, row.ItemID)
	}
	return ids
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%s: empty table", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read records: %w", path, err)
	}
	return header, records, nil
}

func columnIndex(header, required []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
		}
	}
	return cols, nil
}

func decodeBestseller(rec []string, cols map[string]int) (models.BestsellerRow, error) {
	var (
		row models.BestsellerRow
		err error
	)
	if row.Year, err = strconv.Atoi(field(rec, cols["year"])); err != nil {
		return row, fmt.Errorf("year: %w", err)
	}
	if row.Month, err = strconv.Atoi(field(rec, cols["month"])); err != nil {
		return row, fmt.Errorf("month: %w", err)
	}
	if row.Rank, err = strconv.Atoi(field(rec, cols["rank"])); err != nil {
		return row, fmt.Errorf("rank: %w", err)
	}
	if row.Price, err = strconv.Atoi(field(rec, cols["price"])); err != nil {
		return row, fmt.Errorf("price: %w", err)
	}
	if row.StarScore, err = strconv.ParseFloat(field(rec, cols["star_score"]), 64); err != nil {
		return row, fmt.Errorf("star_score: %w", err)
	}
	row.Category = field(rec, cols["category"])
	row.Title = field(rec, cols["title"])
	row.ItemID = normalizeID(field(rec, cols["item_id"]))
	return row, nil
}

func loadBestsellersJSONL(path string) ([]models.BestsellerRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []models.BestsellerRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var row models.BestsellerRow
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		row.ItemID = normalizeID(row.ItemID)
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// normalizeID maps blanks and spreadsheet float renderings ("123.0") back to
// the canonical id form.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimSuffix(id, ".0")
	if id == "" || strings.EqualFold(id, "nan") {
		return models.NotAvailable
	}
	return id
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isJSONL(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return true
	}
	return false
}
