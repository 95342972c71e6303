package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
)

// EncodeCSV writes t with a header row. Empty tables still get the header.
func EncodeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", t.Name, err)
	}

	record := make([]string, len(t.Columns))
	for n, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%s row %d: %d values for %d columns", t.Name, n, len(row), len(t.Columns))
		}
		for i, v := range row {
			record[i] = v.Text()
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write %s row %d: %w", t.Name, n, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSV writes every table to <dir>/<name>.csv and returns the paths.
func WriteCSV(dir string, tables []Table) ([]string, error) {
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(dir, t.Name+".csv")
		if err := writeAtomic(path, func(w io.Writer) error { return EncodeCSV(w, t) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
