package pgcache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// paramSeparator joins each parameter's serialized form into one string
// before hashing. Chosen to be extremely unlikely to occur inside a
// parameter value itself.
const paramSeparator = "\x1f"

// ParamsKey deterministically encodes a SQL parameter vector into a short
// string (the parameter count, a colon, and a 64-bit hash in hex), so a cache entry's secondary key does not grow with the
// size of a wide IN (...) parameter list the way a plain joined string
// would. It covers only the narrow (string|number|null) value set Stash's
// Exec contract allows, trading generality for a bounded, hashed key.
func ParamsKey(params []any) string {
	if len(params) == 0 {
		return "0:" + strconv.FormatUint(xxhash.Sum64String(""), 16)
	}

	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteString(paramSeparator)
		}
		b.WriteString(serializeParam(p))
	}
	sum := xxhash.Sum64String(b.String())
	return strconv.Itoa(len(params)) + ":" + strconv.FormatUint(sum, 16)
}

// serializeParam renders one positional parameter as a string, covering
// the (string|number|null) value set the Executor contract allows.
func serializeParam(p any) string {
	switch v := p.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
