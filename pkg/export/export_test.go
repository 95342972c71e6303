package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func sampleTable() Table {
	name := "Faker"
	return Table{
		Name: "players",
		Columns: []Column{
			{Name: "id", Type: TypeString},
			{Name: "name", Type: TypeString},
			{Name: "kills", Type: TypeInt},
			{Name: "kda_ratio", Type: TypeFloat},
			{Name: "first_kill", Type: TypeBool},
		},
		Rows: [][]Value{
			{Str("p1"), OptStr(&name), Int(5), Float(8), Bool(true)},
			{Str("p2"), OptStr(nil), Int(0), Float(0.67), OptBool(nil)},
			{Str("p3, jr"), Str("say \"hi\""), Int(-1), OptFloat(nil), Bool(false)},
		},
	}
}

func TestValue_Text(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), ""},
		{"zero value is null", Value{}, ""},
		{"string", Str("abc"), "abc"},
		{"int", Int(42), "42"},
		{"whole float keeps decimal", Float(8), "8.0"},
		{"fraction", Float(0.67), "0.67"},
		{"zero float", Float(0), "0.0"},
		{"true", Bool(true), "True"},
		{"false", Bool(false), "False"},
		{"nil pointer", OptInt(nil), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, sampleTable()); err != nil {
		t.Fatalf("EncodeCSV() error = %v", err)
	}

	want := "id,name,kills,kda_ratio,first_kill\n" +
		"p1,Faker,5,8.0,True\n" +
		"p2,,0,0.67,\n" +
		"\"p3, jr\",\"say \"\"hi\"\"\",-1,,False\n"
	if got := buf.String(); got != want {
		t.Errorf("EncodeCSV() =\n%s\nwant\n%s", got, want)
	}
}

func TestEncodeCSV_EmptyTableKeepsHeader(t *testing.T) {
	table := sampleTable()
	table.Rows = nil

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, table); err != nil {
		t.Fatalf("EncodeCSV() error = %v", err)
	}
	if got := buf.String(); got != "id,name,kills,kda_ratio,first_kill\n" {
		t.Errorf("EncodeCSV() = %q", got)
	}
}

func TestEncodeCSV_RowWidthMismatch(t *testing.T) {
	table := sampleTable()
	table.Rows = append(table.Rows, []Value{Str("short")})

	if err := EncodeCSV(&bytes.Buffer{}, table); err == nil {
		t.Error("expected error for short row")
	}
}

func TestWriteCSV_Deterministic(t *testing.T) {
	dir := t.TempDir()
	tables := []Table{sampleTable()}

	paths, err := WriteCSV(dir, tables)
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "players.csv") {
		t.Fatalf("paths = %v", paths)
	}
	first, _ := os.ReadFile(paths[0])

	if _, err := WriteCSV(dir, tables); err != nil {
		t.Fatalf("second WriteCSV() error = %v", err)
	}
	second, _ := os.ReadFile(paths[0])

	if !bytes.Equal(first, second) {
		t.Error("rewriting the same table changed the file")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestWriteParquet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "parquet")

	paths, err := WriteParquet(dir, []Table{sampleTable()})
	if err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Errorf("not a parquet file (%d bytes)", len(data))
	}
}

func TestParquetSchema(t *testing.T) {
	schema, err := parquetSchema(sampleTable())
	if err != nil {
		t.Fatalf("parquetSchema() error = %v", err)
	}
	for _, want := range []string{
		"name=parquet_go_root, repetitiontype=REQUIRED",
		"name=id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL",
		"name=kills, type=INT64, repetitiontype=OPTIONAL",
		"name=kda_ratio, type=DOUBLE, repetitiontype=OPTIONAL",
		"name=first_kill, type=BOOLEAN, repetitiontype=OPTIONAL",
	} {
		if !bytes.Contains([]byte(schema), []byte(want)) {
			t.Errorf("schema missing %q:\n%s", want, schema)
		}
	}
}

func TestWriteRaw(t *testing.T) {
	dir := t.TempDir()
	if err := WriteRaw(dir, "2616372", []byte(`{"data":{}}`)); err != nil {
		t.Fatalf("WriteRaw() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "2616372.json"))
	if err != nil || string(data) != `{"data":{}}` {
		t.Errorf("raw file = %q, %v", data, err)
	}
}
