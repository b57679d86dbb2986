package chat

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Field is a single key/value pair of a structured reply, in source order.
type Field struct {
	Key   string
	Value string
}

// Record is one mapping of a structured reply.
type Record []Field

// Content 聊天内容：纯文本或有序的键值记录列表。
type Content struct {
	Text    string
	Records []Record
	// IsList distinguishes an empty record list from empty text.
	IsList bool
}

// TextContent wraps plain text.
func TextContent(text string) Content {
	return Content{Text: text}
}

// RecordContent wraps a list of records.
func RecordContent(records []Record) Content {
	return Content{Records: records, IsList: true}
}

// MarshalJSON encodes text as a JSON string and records as an array of objects
// whose keys keep their original order.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.IsList {
		return json.Marshal(c.Text)
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, record := range c.Records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, field := range record {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(field.Key)
			if err != nil {
				return nil, err
			}
			value, err := json.Marshal(field.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(value)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a JSON string, an array of objects, or null. Any
// other value is kept as its compact JSON text.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty content")
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = TextContent(text)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		records := make([]Record, 0, len(items))
		for i, item := range items {
			record, err := decodeRecord(item)
			if err != nil {
				value, err := decodeValue(item)
				if err != nil {
					return err
				}
				record = Record{{Key: strconv.Itoa(i), Value: value}}
			}
			records = append(records, record)
		}
		*c = RecordContent(records)
	case 'n':
		*c = TextContent("")
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return err
		}
		*c = TextContent(buf.String())
	}
	return nil
}

// UnmarshalJSON decodes an object into fields kept in key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	record, err := decodeRecord(data)
	if err != nil {
		return err
	}
	*r = record
	return nil
}

func decodeRecord(data []byte) (Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("record must be a JSON object")
	}

	om := orderedmap.New[string, any]()
	if err := om.UnmarshalJSON(trimmed); err != nil {
		return nil, err
	}

	var indexed, named Record
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		field := Field{Key: pair.Key, Value: stringify(pair.Value)}
		if _, ok := arrayIndex(pair.Key); ok {
			indexed = append(indexed, field)
		} else {
			named = append(named, field)
		}
	}

	// Integer keys come first in ascending order, like JavaScript property enumeration.
	slices.SortStableFunc(indexed, func(a, b Field) int {
		x, _ := arrayIndex(a.Key)
		y, _ := arrayIndex(b.Key)
		return cmp.Compare(x, y)
	})

	record := make(Record, 0, om.Len())
	record = append(record, indexed...)
	return append(record, named...), nil
}

// arrayIndex reports whether key is a canonical array index ("0", "7", not "07").
func arrayIndex(key string) (uint64, bool) {
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == math.MaxUint32 || strconv.FormatUint(n, 10) != key {
		return 0, false
	}
	return n, true
}

func decodeValue(data []byte) (string, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return "", err
	}
	return stringify(value), nil
}

// stringify renders a decoded JSON value the way it reads inline in a reply.
// Nested objects are kept as compact JSON.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatNumber(v)
	case json.Number:
		return v.String()
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// formatNumber writes v the way JavaScript converts a number to a string.
func formatNumber(v float64) string {
	switch {
	case v == 0:
		return "0"
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}

	if abs := math.Abs(v); abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
