package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"comicmap/pkg/models"
)

// CSVHeader is the column layout shared by export and import.
var CSVHeader = []string{"uuid", "slug", "type", "created_at", "updated_at"}

type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter writes the header immediately.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return nil, err
	}
	return &CSVWriter{w: cw}, nil
}

func (c *CSVWriter) Write(m models.Mapping) error {
	return c.w.Write([]string{
		m.Identifier,
		m.Slug,
		string(m.Kind),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// ReadCSV calls fn for every data row. Columns are matched by header name, so
// their order does not matter; rows with an invalid type fail with the line number.
func ReadCSV(r io.Reader, fn func(models.Mapping) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := readHeader(cr)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	for _, col := range []string{"uuid", "slug", "type"} {
		if _, ok := header[col]; !ok {
			return fmt.Errorf("missing column %q", col)
		}
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(row) == 0 {
			continue
		}

		m := models.Mapping{
			Identifier: valueAt(header, row, "uuid"),
			Slug:       valueAt(header, row, "slug"),
		}
		if m.Identifier == "" || m.Slug == "" {
			return fmt.Errorf("line %d: uuid and slug are required", line)
		}
		kind, ok := models.ParseKind(valueAt(header, row, "type"))
		if !ok {
			return fmt.Errorf("line %d: %s", line, msgBadType)
		}
		m.Kind = kind

		if m.CreatedAt, err = parseTime(valueAt(header, row, "created_at")); err != nil {
			return fmt.Errorf("line %d: created_at: %w", line, err)
		}
		if m.UpdatedAt, err = parseTime(valueAt(header, row, "updated_at")); err != nil {
			return fmt.Errorf("line %d: updated_at: %w", line, err)
		}

		if err := fn(m); err != nil {
			return err
		}
	}
}

func readHeader(r *csv.Reader) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(row))
	for idx, name := range row {
		header[strings.TrimSpace(strings.ToLower(name))] = idx
	}
	return header, nil
}

func valueAt(header map[string]int, row []string, key string) string {
	idx, ok := header[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseTime accepts RFC 3339 with or without fractional seconds; empty is zero.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
