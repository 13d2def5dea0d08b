package reports

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// CursorField is one sort-key column and its value at the last returned row.
type CursorField struct {
	Name  string
	Value any
}

// Cursor is an ordered mapping of sort-key columns to values. Its encoded
// form is base64 of a JSON object whose keys keep this order and whose
// separators are ", " and ": ", with non-ASCII escaped as \uXXXX, so cursors
// issued by earlier deployments stay valid.
type Cursor []CursorField

// Encode renders the cursor. Values may be strings, integers, floats, bools
// or nil.
func (c Cursor) Encode() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c {
		if i > 0 {
			buf.WriteString(", ")
		}
		writeJSONString(&buf, f.Name)
		buf.WriteString(": ")
		if err := writeJSONValue(&buf, f.Value); err != nil {
			return "", fmt.Errorf("cursor field %q: %w", f.Name, err)
		}
	}
	buf.WriteByte('}')
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeCursor is Encode for callers building a cursor from pairs.
func EncodeCursor(fields ...CursorField) (string, error) {
	return Cursor(fields).Encode()
}

// DecodeCursor is the inverse of Encode. Anything that is not base64 of a
// flat JSON object fails with ErrInvalidCursor.
func DecodeCursor(encoded string) (Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrorInvalidCursor("not base64")
	}
	if !gjson.ValidBytes(raw) {
		return nil, ErrorInvalidCursor("not JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, ErrorInvalidCursor("not a JSON object")
	}

	var (
		cursor Cursor
		bad    error
	)
	seen := make(map[string]bool)
	doc.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if seen[name] {
			bad = ErrorInvalidCursor(fmt.Sprintf("duplicate field %q", name))
			return false
		}
		seen[name] = true

		v, err := decodeValue(value)
		if err != nil {
			bad = ErrorInvalidCursor(fmt.Sprintf("field %q: %v", name, err))
			return false
		}
		cursor = append(cursor, CursorField{Name: name, Value: v})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return cursor, nil
}

// Strings returns the values of the named fields, which must be exactly the
// cursor's fields in that order and all strings.
func (c Cursor) Strings(names ...string) ([]string, error) {
	if len(c) != len(names) {
		return nil, ErrorInvalidCursor(fmt.Sprintf("expected fields %v", names))
	}
	values := make([]string, len(names))
	for i, name := range names {
		if c[i].Name != name {
			return nil, ErrorInvalidCursor(fmt.Sprintf("expected field %q at position %d, got %q", name, i, c[i].Name))
		}
		s, ok := c[i].Value.(string)
		if !ok {
			return nil, ErrorInvalidCursor(fmt.Sprintf("field %q is not a string", name))
		}
		values[i] = s
	}
	return values, nil
}

func decodeValue(v gjson.Result) (any, error) {
	switch v.Type {
	case gjson.String:
		return v.String(), nil
	case gjson.Null:
		return nil, nil
	case gjson.True, gjson.False:
		return v.Bool(), nil
	case gjson.Number:
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return i, nil
		}
		return v.Float(), nil
	default:
		return nil, fmt.Errorf("unsupported value %s", v.Raw)
	}
}

func writeJSONValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		writeJSONString(buf, x)
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case int:
		buf.WriteString(strconv.Itoa(x))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite number %v", x)
		}
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if x == math.Trunc(x) && math.Abs(x) < 1e16 {
			s += ".0"
		}
		buf.WriteString(s)
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func writeUnicodeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}

// writeJSONString escapes everything outside printable ASCII.
func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r >= 0x20 && r <= 0x7e:
			buf.WriteByte(byte(r))
		case r > 0xffff:
			r -= 0x10000
			writeUnicodeEscape(buf, 0xd800|((r>>10)&0x3ff))
			writeUnicodeEscape(buf, 0xdc00|(r&0x3ff))
		default:
			writeUnicodeEscape(buf, r)
		}
	}
	buf.WriteByte('"')
}
