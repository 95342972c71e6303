// Package input reads the ordered list of series identifiers to fetch.
package input

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoIdentifiers is returned when an input yields no identifiers.
var ErrNoIdentifiers = errors.New("no series identifiers")

// headerNames are recognised identifier columns, matched case-insensitively.
var headerNames = []string{"seriesid", "series_id", "id"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadFile reads identifiers from a CSV file. The first row is a header when
// it names an identifier column (SeriesID, series_id or id); otherwise the
// first column of every row is an identifier. Duplicates are dropped keeping
// the first occurrence.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	ids, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// Read parses CSV identifiers from r. See LoadFile.
func Read(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoIdentifiers
	}

	column := 0
	if idx := headerColumn(rows[0]); idx >= 0 {
		column = idx
		rows = rows[1:]
	}

	var raw []string
	for _, row := range rows {
		if column < len(row) {
			raw = append(raw, row[column])
		}
	}
	return normalize(raw)
}

func headerColumn(row []string) int {
	for i, cell := range row {
		name := strings.ToLower(strings.TrimSpace(cell))
		for _, h := range headerNames {
			if name == h {
				return i
			}
		}
	}
	return -1
}

// ParseList splits a comma-separated identifier list such as "1,2, 3".
func ParseList(list string) ([]string, error) {
	return normalize(strings.Split(list, ","))
}

// normalize trims, drops blanks and duplicates, keeping input order.
func normalize(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrNoIdentifiers
	}
	return ids, nil
}
