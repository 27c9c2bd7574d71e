// Package models defines core data structures for catalog products, matches, and ingestion reports.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Well-known catalog fields. Everything else is carried as free-form metadata.
const (
	FieldID    = "id"
	FieldName  = "name"
	FieldTitle = "title"
	FieldPrice = "price"
	FieldImage = "image"
)

// ProductRecord is a catalog item. Fields holds the catalog object verbatim; ID, Name and
// Image are derived from it when the record is built and never diverge from it.
type ProductRecord struct {
	ID     string
	Name   string
	Image  string
	Fields map[string]any
}

// NewProductRecord builds a record from a catalog object. When the object has no id, a
// deterministic ID is derived from the image locator so re-ingesting yields the same ID.
func NewProductRecord(fields map[string]any) ProductRecord {
	if fields == nil {
		fields = map[string]any{}
	}
	p := ProductRecord{Fields: fields}
	p.Image = stringField(fields, FieldImage)
	p.Name = stringField(fields, FieldName)
	if p.Name == "" {
		p.Name = stringField(fields, FieldTitle)
	}
	p.ID = stringField(fields, FieldID)
	if p.ID == "" {
		p.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.Image)).String()
	}
	return p
}

// Price returns the numeric price when the catalog carries one.
func (p ProductRecord) Price() (float64, bool) {
	switch v := p.Fields[FieldPrice].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// MarshalJSON writes the catalog object exactly as it was read.
func (p ProductRecord) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// UnmarshalJSON reads a catalog object, keeping numbers in their literal form.
func (p *ProductRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}
	*p = NewProductRecord(fields)
	return nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
