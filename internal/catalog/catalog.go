// Package catalog reads product catalogs from JSON or Excel files.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/vismatch/internal/models"
)

// Load reads the catalog at path. The format is chosen by extension: .xlsx is read as a
// spreadsheet, anything else as JSON. Records keep their catalog order.
func Load(path string) ([]models.ProductRecord, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ParseXLSX(bytes.NewReader(content))
	default:
		return ParseJSON(content)
	}
}

// ParseJSON parses a JSON array of product objects. An object of the form
// {"products": [...]} is accepted too.
func ParseJSON(content []byte) ([]models.ProductRecord, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parse catalog: empty document")
	}
	if trimmed[0] == '{' {
		var wrapper struct {
			Products json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		if wrapper.Products == nil {
			return nil, fmt.Errorf("parse catalog: object has no \"products\" array")
		}
		trimmed = wrapper.Products
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	records := make([]models.ProductRecord, len(raw))
	for i, fields := range raw {
		records[i] = models.NewProductRecord(fields)
	}
	return records, nil
}

// ParseXLSX reads the first sheet of a workbook. The first row holds field names; every
// following non-empty row is a product. Empty cells are left out of the record.
func ParseXLSX(r io.Reader) ([]models.ProductRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("parse catalog: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parse catalog: sheet %q has no header row", sheets[0])
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []models.ProductRecord
	for _, row := range rows[1:] {
		fields := make(map[string]any)
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			fields[header[i]] = cellValue(cell)
		}
		if len(fields) == 0 {
			continue
		}
		records = append(records, models.NewProductRecord(fields))
	}
	return records, nil
}

// cellValue keeps numeric cells numeric so prices survive into valid_products.json as numbers.
func cellValue(cell string) any {
	c := cell[0]
	if (c == '-' || (c >= '0' && c <= '9')) && json.Valid([]byte(cell)) {
		return json.Number(cell)
	}
	return cell
}
