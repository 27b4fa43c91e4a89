// Package judge decides whether a program's output matches the expected
// answer.
package judge

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"strings"
)

// Normalize trims surrounding whitespace. Results carry normalized outputs.
func Normalize(output string) string {
	return strings.TrimSpace(output)
}

// Equal compares actual against expected.
//
// Both sides are trimmed. When both parse as JSON they are compared as values:
// object key order and insignificant whitespace are ignored, array order is
// not, and numbers compare by exact value so 1 equals 1.0. Otherwise the
// trimmed strings must match exactly, case included.
func Equal(actual, expected string) bool {
	actual = Normalize(actual)
	expected = Normalize(expected)

	a, errA := decode(actual)
	b, errB := decode(expected)
	if errA == nil && errB == nil {
		return valuesEqual(a, b)
	}
	return actual == expected
}

func decode(s string) (any, error) {
	if s == "" {
		return nil, errors.New("empty input")
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Trailing content means the output is not a single JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data")
	}
	return v, nil
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !valuesEqual(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, okA := new(big.Rat).SetString(string(a))
	rb, okB := new(big.Rat).SetString(string(b))
	return okA && okB && ra.Cmp(rb) == 0
}
