package export

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/bytedance/sonic"
	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetParallelism is the number of goroutines the JSON writer marshals with.
const parquetParallelism = 4

// parquetSchema builds the JSON schema definition of t. Every column is
// OPTIONAL so nulls survive.
func parquetSchema(t Table) (string, error) {
	fields := make([]map[string]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, parquetType(c.Type)),
		})
	}
	return sonic.MarshalString(map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
}

func parquetType(t Type) string {
	switch t {
	case TypeInt:
		return "type=INT64"
	case TypeFloat:
		return "type=DOUBLE"
	case TypeBool:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// EncodeParquet writes t as a SNAPPY-compressed Parquet file.
func EncodeParquet(w io.Writer, t Table) error {
	schema, err := parquetSchema(t)
	if err != nil {
		return fmt.Errorf("build %s schema: %w", t.Name, err)
	}

	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(schema, pfw, parquetParallelism)
	if err != nil {
		return fmt.Errorf("create %s parquet writer: %w", t.Name, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	row := make(map[string]any, len(t.Columns))
	for n, values := range t.Rows {
		if len(values) != len(t.Columns) {
			_ = pw.WriteStop()
			return fmt.Errorf("%s row %d: %d values for %d columns", t.Name, n, len(values), len(t.Columns))
		}
		for i, c := range t.Columns {
			row[c.Name] = values[i].native()
		}
		encoded, err := sonic.MarshalString(row)
		if err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("encode %s row %d: %w", t.Name, n, err)
		}
		if err := pw.Write(encoded); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write %s row %d: %w", t.Name, n, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish %s parquet: %w", t.Name, err)
	}
	return nil
}

// WriteParquet writes every table to <dir>/<name>.parquet and returns the paths.
func WriteParquet(dir string, tables []Table) ([]string, error) {
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(dir, t.Name+".parquet")
		if err := writeAtomic(path, func(w io.Writer) error { return EncodeParquet(w, t) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
