// Package export writes fixed-schema tables as CSV and Parquet files.
//
// A Table has a fixed column set; every cell is a typed Value that may be
// null. Nulls are written as empty CSV fields and as Parquet nulls, so the
// schema shape never depends on which fields a payload carried.
package export

import (
	"strconv"
	"strings"
)

// Type is the logical type of a column.
type Type int

const (
	TypeString Type = iota
	TypeInt
	TypeFloat
	TypeBool
)

// Column is one named, typed column.
type Column struct {
	Name string
	Type Type
}

// Table is a named set of rows with a fixed column set.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]Value
}

// Value is one cell. The zero Value is null.
type Value struct {
	valid bool
	typ   Type
	s     string
	i     int64
	f     float64
	b     bool
}

// Null returns a null cell.
func Null() Value { return Value{} }

// Str, Int, Float and Bool return non-null cells.
func Str(s string) Value { return Value{valid: true, typ: TypeString, s: s} }
func Int(i int64) Value { return Value{valid: true, typ: TypeInt, i: i} }
func Float(f float64) Value { return Value{valid: true, typ: TypeFloat, f: f} }
func Bool(b bool) Value { return Value{valid: true, typ: TypeBool, b: b} }

// OptStr returns a string cell, or null for nil.
func OptStr(s *string) Value {
	if s == nil {
		return Null()
	}
	return Str(*s)
}

// OptInt returns an integer cell, or null for nil.
func OptInt(i *int64) Value {
	if i == nil {
		return Null()
	}
	return Int(*i)
}

// OptFloat returns a float cell, or null for nil.
func OptFloat(f *float64) Value {
	if f == nil {
		return Null()
	}
	return Float(*f)
}

// OptBool returns a boolean cell, or null for nil.
func OptBool(b *bool) Value {
	if b == nil {
		return Null()
	}
	return Bool(*b)
}

// IsNull reports whether the cell is null.
func (v Value) IsNull() bool { return !v.valid }

// Text renders the cell for CSV: empty for null, True/False for booleans and
// floats always with a decimal point (8 → "8.0").
func (v Value) Text() string {
	if !v.valid {
		return ""
	}
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case TypeBool:
		if v.b {
			return "True"
		}
		return "False"
	default:
		return v.s
	}
}

// native returns the cell as a JSON-encodable value for the Parquet writer.
func (v Value) native() any {
	if !v.valid {
		return nil
	}
	switch v.typ {
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeBool:
		return v.b
	default:
		return v.s
	}
}
