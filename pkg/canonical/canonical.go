// Package canonical produces deterministic JSON for credential signing and
// verification. Object keys are sorted lexicographically at every nesting
// level; array order is preserved. Signer and verifier must run the exact
// same serialization or every existing signature breaks.
package canonical

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SignatureField is the payload field stripped before signing; the signature
// is never part of the signed message.
const SignatureField = "signature"

// Marshal serializes value as canonical JSON: recursively sorted object
// keys, compact separators, arrays in original order.
func Marshal(value interface{}) (string, error) {
	b, err := json.Marshal(sortKeys(value))
	if err != nil {
		return "", fmt.Errorf("canonical: failed to marshal: %w", err)
	}
	return string(b), nil
}

// MarshalPayload serializes an arbitrary struct or map as canonical JSON
// with the signature field removed. This is the exact byte sequence that
// gets signed and verified.
func MarshalPayload(payload interface{}) (string, error) {
	m, err := ToMap(payload)
	if err != nil {
		return "", err
	}
	delete(m, SignatureField)
	return Marshal(m)
}

// ToMap converts any JSON-marshalable value into a map via a JSON
// round-trip, so struct tags are respected.
func ToMap(value interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("canonical: failed to marshal value: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("canonical: value is not a JSON object: %w", err)
	}
	return m, nil
}

// sortKeys recursively orders map keys and walks nested containers.
func sortKeys(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := &orderedMap{keys: keys, values: make(map[string]interface{}, len(v))}
		for _, k := range keys {
			ordered.values[k] = sortKeys(v[k])
		}
		return ordered
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = sortKeys(item)
		}
		return result
	default:
		return value
	}
}

// orderedMap emits its entries in key order during JSON marshaling.
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func (o *orderedMap) MarshalJSON() ([]byte, error) {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		v := o.values[k]
		if v == nil {
			buf.WriteString("null")
			continue
		}
		valBytes, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return []byte(buf.String()), nil
}
