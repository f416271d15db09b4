package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the closed set of cell types a column can hold.
type Kind int

const (
	// KindMissing marks an absent value or a type the metric cannot use.
	KindMissing Kind = iota
	KindString
	KindInt
	KindReal
)

var kindNames = map[Kind]string{
	KindMissing: "missing",
	KindString:  "string",
	KindInt:     "int",
	KindReal:    "real",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a type name to its Kind. Common aliases are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str", "text":
		return KindString, nil
	case "int", "integer", "int64", "long":
		return KindInt, nil
	case "real", "float", "double", "float64", "number":
		return KindReal, nil
	case "missing", "":
		return KindMissing, nil
	default:
		return KindMissing, fmt.Errorf("unknown column type %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Numeric reports whether the kind holds a number.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindReal
}

// Cell is a single typed value. Exactly one payload is meaningful, chosen by kind.
type Cell struct {
	kind Kind
	str  string
	num  int64
	real float64
}

// String returns a string cell.
func String(v string) Cell { return Cell{kind: KindString, str: v} }

// Int returns an integer cell.
func Int(v int64) Cell { return Cell{kind: KindInt, num: v} }

// Real returns a real cell.
func Real(v float64) Cell { return Cell{kind: KindReal, real: v} }

// Missing returns a cell without a usable value.
func Missing() Cell { return Cell{} }

func (c Cell) Kind() Kind { return c.kind }

func (c Cell) IsMissing() bool { return c.kind == KindMissing }

// StringValue returns the payload of a string cell.
func (c Cell) StringValue() (string, bool) {
	return c.str, c.kind == KindString
}

// IntValue returns the payload of an integer cell.
func (c Cell) IntValue() (int64, bool) {
	return c.num, c.kind == KindInt
}

// RealValue returns the payload of a real cell.
func (c Cell) RealValue() (float64, bool) {
	return c.real, c.kind == KindReal
}

// Text renders the cell the way it would appear in a CSV file.
func (c Cell) Text() string {
	switch c.kind {
	case KindString:
		return c.str
	case KindInt:
		return strconv.FormatInt(c.num, 10)
	case KindReal:
		return strconv.FormatFloat(c.real, 'g', -1, 64)
	default:
		return ""
	}
}

// Value returns the payload as a plain Go value, nil for missing cells.
func (c Cell) Value() any {
	switch c.kind {
	case KindString:
		return c.str
	case KindInt:
		return c.num
	case KindReal:
		return c.real
	default:
		return nil
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value())
}

// FromValue converts a decoded JSON or YAML scalar into a cell. Anything that is
// not a string, an integer or a finite real becomes a missing cell.
func FromValue(v any) Cell {
	switch t := v.(type) {
	case string:
		return String(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case int32:
		return Int(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return Real(float64(t))
		}
		return Int(int64(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Missing()
		}
		return Real(t)
	case float32:
		return FromValue(float64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return FromValue(f)
		}
		return Missing()
	default:
		return Missing()
	}
}

// Coerce converts a cell to the given column kind. Integers widen to reals, every
// value renders into a string column and strings are parsed for numeric columns.
// A value that cannot be represented becomes missing.
func Coerce(c Cell, k Kind) Cell {
	if c.kind == k || c.kind == KindMissing {
		return c
	}

	switch k {
	case KindString:
		return String(c.Text())
	case KindReal:
		switch c.kind {
		case KindInt:
			return Real(float64(c.num))
		case KindString:
			return ParseCell(c.str, KindReal)
		}
	case KindInt:
		switch c.kind {
		case KindReal:
			if c.real == math.Trunc(c.real) && math.Abs(c.real) < 1<<53 {
				return Int(int64(c.real))
			}
		case KindString:
			return ParseCell(c.str, KindInt)
		}
	}

	return Missing()
}

// ParseCell parses raw text as the given kind.
func ParseCell(raw string, k Kind) Cell {
	raw = strings.TrimSpace(raw)
	switch k {
	case KindString:
		return String(raw)
	case KindInt:
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Int(v)
		}
	case KindReal:
		if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return Real(v)
		}
	}
	return Missing()
}
