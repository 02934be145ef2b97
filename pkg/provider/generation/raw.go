package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the shapes a [RawResponse] may take.
type Kind int

const (
	// KindString is freeform narrative text containing "Section:" labels.
	KindString Kind = iota + 1

	// KindObject is a flat mapping of section names to text.
	KindObject

	// KindWrapped is a single-key envelope around another RawResponse.
	KindWrapped
)

// String returns the lowercase name of k.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindWrapped:
		return "wrapped"
	default:
		return "unknown"
	}
}

// RawResponse is the loosely-typed summarisation payload returned by the
// generation service. Exactly one of the shapes is populated, selected by Kind.
// Construct values with [StringForm], [ObjectForm] or [Wrapped].
type RawResponse struct {
	Kind Kind

	// Text is set for KindString.
	Text string

	// Fields is set for KindObject. Keys keep the casing the service used.
	Fields map[string]string

	// Key and Inner are set for KindWrapped.
	Key   string
	Inner *RawResponse
}

// StringForm returns a KindString response.
func StringForm(text string) RawResponse {
	return RawResponse{Kind: KindString, Text: text}
}

// ObjectForm returns a KindObject response. A nil map is treated as empty.
func ObjectForm(fields map[string]string) RawResponse {
	if fields == nil {
		fields = map[string]string{}
	}
	return RawResponse{Kind: KindObject, Fields: fields}
}

// Wrapped returns a KindWrapped response enveloping inner under key.
func Wrapped(key string, inner RawResponse) RawResponse {
	return RawResponse{Kind: KindWrapped, Key: key, Inner: &inner}
}

// canonicalKeys are the lowercase section names an object payload is expected
// to carry. A single-key object whose key is not one of these is treated as an
// envelope.
var canonicalKeys = map[string]bool{
	"subjective": true,
	"objective":  true,
	"assessment": true,
	"plan":       true,
}

// ErrUnsupportedShape is returned by [DecodeRaw] for JSON values that are
// neither a string nor an object.
var ErrUnsupportedShape = errors.New("generation: unsupported response shape")

// DecodeRaw decodes the JSON "response" value of the service contract into a
// RawResponse. Strings become StringForm. Objects become ObjectForm, except a
// single-key object whose key is not a section name and whose value is a
// string or object, which becomes Wrapped around the decoded value. Wrapping
// is decoded recursively so that normalisation can decide how deep to unwrap.
func DecodeRaw(data []byte) (RawResponse, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return RawResponse{}, fmt.Errorf("generation: decode raw: %w", ErrUnsupportedShape)
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return RawResponse{}, fmt.Errorf("generation: decode raw: %w", err)
		}
		return StringForm(s), nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return RawResponse{}, fmt.Errorf("generation: decode raw: %w", err)
		}
		if len(obj) == 1 {
			for k, v := range obj {
				if canonicalKeys[strings.ToLower(k)] {
					break
				}
				v = bytes.TrimSpace(v)
				if len(v) > 0 && (v[0] == '"' || v[0] == '{') {
					inner, err := DecodeRaw(v)
					if err != nil {
						return RawResponse{}, err
					}
					return Wrapped(k, inner), nil
				}
			}
		}
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			fields[k] = flattenValue(v)
		}
		return ObjectForm(fields), nil
	default:
		return RawResponse{}, fmt.Errorf("generation: decode raw: %w", ErrUnsupportedShape)
	}
}

// ParseRaw decodes text that may be a JSON response value or free text.
// JSON strings and objects are decoded with [DecodeRaw]; anything else,
// including malformed JSON, becomes StringForm of the original text.
func ParseRaw(text string) RawResponse {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, `"`) {
		if raw, err := DecodeRaw([]byte(trimmed)); err == nil {
			return raw
		}
	}
	return StringForm(text)
}

// flattenValue renders a JSON value as section text. Strings are used as-is,
// arrays are joined line by line, nested objects are rendered as "key: value"
// lines in key order and null is empty.
func flattenValue(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return ""
	}
	switch v[0] {
	case '"':
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(v, &items) == nil {
			parts := make([]string, 0, len(items))
			for _, it := range items {
				if s := flattenValue(it); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, "\n")
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(v, &obj) == nil {
			keys := make([]string, 0, len(obj))
			for k := range obj {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			lines := make([]string, 0, len(keys))
			for _, k := range keys {
				lines = append(lines, k+": "+flattenValue(obj[k]))
			}
			return strings.Join(lines, "\n")
		}
	case 'n':
		return ""
	case 't', 'f':
		var b bool
		if json.Unmarshal(v, &b) == nil {
			return strconv.FormatBool(b)
		}
	}
	return string(v)
}
