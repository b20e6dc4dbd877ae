package datum

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Value is a sealed interface over the cell types a result set can hold.
type Value interface {
	datum()
	// String renders the value the way psql would print it.
	String() string
}

// Null is SQL NULL.
type Null struct{}

func (Null) datum()         {}
func (Null) String() string { return "NULL" }

// Int is any integer column value.
type Int int64

func (Int) datum()           {}
func (v Int) String() string { return strconv.FormatInt(int64(v), 10) }

// Float is any floating point column value.
type Float float64

func (Float) datum()           {}
func (v Float) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

// Text is a character column value.
type Text string

func (Text) datum()           {}
func (v Text) String() string { return string(v) }

// Bytes is a binary column value.
type Bytes []byte

func (Bytes) datum()           {}
func (v Bytes) String() string { return `\x` + hex.EncodeToString(v) }

// Bool is a boolean column value.
type Bool bool

func (Bool) datum()           {}
func (v Bool) String() string { return strconv.FormatBool(bool(v)) }

// Row is one result-set row in column order.
type Row []Value

// FromDriver converts a value scanned by a database/sql or pgx driver.
// Times become RFC 3339 text; unknown types fall back to their fmt form.
func FromDriver(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Value:
		return val
	case int64:
		return Int(val)
	case int:
		return Int(val)
	case int32:
		return Int(val)
	case int16:
		return Int(val)
	case int8:
		return Int(val)
	case uint32:
		return Int(val)
	case uint16:
		return Int(val)
	case uint8:
		return Int(val)
	case float64:
		return Float(val)
	case float32:
		return Float(val)
	case string:
		return Text(val)
	case []byte:
		// database/sql reuses scan buffers
		return Bytes(append([]byte(nil), val...))
	case bool:
		return Bool(val)
	case time.Time:
		return Text(val.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		return Text(val.String())
	default:
		return Text(fmt.Sprint(val))
	}
}

// ToDriver converts a Value into a plain Go value accepted by drivers.
func ToDriver(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Text:
		return string(val)
	case Bytes:
		return []byte(val)
	case Bool:
		return bool(val)
	default:
		return val.String()
	}
}

// AsInt returns v as an int64 when it holds an Int.
func AsInt(v Value) (int64, bool) {
	n, ok := v.(Int)
	return int64(n), ok
}

// AsText returns v as a string when it holds Text.
func AsText(v Value) (string, bool) {
	s, ok := v.(Text)
	return string(s), ok
}
