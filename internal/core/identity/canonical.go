package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// CanonicalJSON encodes a value as canonical JSON: object keys sorted
// recursively, integers without fraction or exponent, no insignificant
// whitespace, forward slashes unescaped. Identical values always encode
// to identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	cv, err := canonicalValue(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, cv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canonicalValue normalizes a value tree: structs and typed maps are
// flattened through encoding/json, numbers become json.Number.
func canonicalValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, json.Number:
		return t, nil
	case int:
		return json.Number(strconv.Itoa(t)), nil
	case int64:
		return json.Number(strconv.FormatInt(t, 10)), nil
	case float64:
		return floatToNumber(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, sub := range t {
			cv, err := canonicalValue(sub)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, sub := range t {
			cv, err := canonicalValue(sub)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		// Structs, typed slices/maps: round-trip through encoding/json
		// with number preservation.
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, err
		}
		if _, again := generic.(map[string]any); again {
			return canonicalValue(generic)
		}
		if _, again := generic.([]any); again {
			return canonicalValue(generic)
		}
		return generic, nil
	}
}

func floatToNumber(f float64) (json.Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number in canonical value")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return json.Number(strconv.FormatInt(int64(f), 10)), nil
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(string(t))
	case string:
		writeJSONString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, sub := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, sub); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical JSON: unsupported type %T", v)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	// json.Marshal escapes <, >, & for HTML safety; canonical form keeps
	// them literal.
	b = bytes.ReplaceAll(b, []byte(`\u003c`), []byte("<"))
	b = bytes.ReplaceAll(b, []byte(`\u003e`), []byte(">"))
	b = bytes.ReplaceAll(b, []byte(`\u0026`), []byte("&"))
	buf.Write(b)
}
