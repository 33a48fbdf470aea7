// Package canonical renders identity and signature strings in a single
// deterministic form, so two logically equal keys always collide in a map.
//
// Strings are NFC normalized before rendering: a key typed with composed
// characters and the same key arriving decomposed from a remote are the
// same key. Scalars render unambiguously (strings are quoted, numbers are
// not), so the int 1 and the string "1" never collide.
package canonical

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// String renders a single scalar in canonical form.
func String(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(norm.NFC.String(val))
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case fmt.Stringer:
		return strconv.Quote(norm.NFC.String(val.String()))
	}
	return fmt.Sprintf("%T(%v)", v, v)
}

// KeyString renders an identity map key: the entity type name plus the
// primary-key values in declaration order.
func KeyString(typeName string, keys []any) string {
	var b strings.Builder
	b.WriteString(norm.NFC.String(typeName))
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(String(k))
	}
	b.WriteByte(')')
	return b.String()
}

// Signature renders a query result-cache key: the query name plus its
// arguments in call order.
func Signature(name string, args []any) string {
	return KeyString(name, args)
}
