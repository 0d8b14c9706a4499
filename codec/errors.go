package codec

import "fmt"

// ErrMalformedDocument is the sentinel codec.Decode wraps on any
// violation of the COD invariants: truncated input, duplicated shape
// keys, unknown shape indices, non-UTF-8 strings, residual bytes after
// the declared shape, or a tag byte outside the enumerated range.
var ErrMalformedDocument = fmt.Errorf("codec: malformed document")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}
