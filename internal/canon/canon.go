// Package canon implements deterministic JSON canonicalization and
// content hashing: object keys sorted lexicographically, no whitespace,
// numbers in minimal form, arrays preserved in order, nested objects
// canonicalized recursively.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize renders v as a canonical JSON string. v is typically the
// result of json.Unmarshal (map[string]any, []any, string, float64,
// bool, nil) but arbitrary marshalable values are accepted via a
// round-trip through encoding/json first.
func Canonicalize(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", fmt.Errorf("canon: normalizing value: %w", err)
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, normalized); err != nil {
		return "", fmt.Errorf("canon: encoding value: %w", err)
	}
	return sb.String(), nil
}

// Hash returns the lowercase hex SHA-256 digest of the UTF-8 encoding of
// Canonicalize(v).
func Hash(v any) (string, error) {
	s, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes canonicalizes raw JSON bytes (e.g. a schema file's contents)
// and returns its hash.
func HashBytes(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("canon: parsing JSON: %w", err)
	}
	return Hash(v)
}

// normalize round-trips v through encoding/json so that struct values,
// not just decoded map[string]any trees, canonicalize identically.
func normalize(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil, json.Number:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case json.Number:
		sb.WriteString(canonicalNumber(val.String()))
	case float64:
		sb.WriteString(canonicalNumber(strconv.FormatFloat(val, 'g', -1, 64)))
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(b)
	case []any:
		sb.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, elem); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		// Nested values that are not already in decoded-JSON form (e.g. an
		// int inside a map[string]any) go through the same round-trip.
		normalized, err := normalize(val)
		if err != nil {
			return fmt.Errorf("canon: unsupported type %T: %w", v, err)
		}
		return writeCanonical(sb, normalized)
	}
	return nil
}

// canonicalNumber renders a decimal-string number in the minimal form:
// integral values with no fractional part are emitted without a decimal
// point; NaN/Inf never reach here because JSON cannot represent them.
func canonicalNumber(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
