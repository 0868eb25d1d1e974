package cache

import (
	"errors"
	"strings"
)

// KeyPrefix is the URL path prefix every canonical key carries
const KeyPrefix = "/abs/"

// ErrInvalidID is returned for identifiers that cannot be normalized
var ErrInvalidID = errors.New("invalid id")

// Tier is a durable cache tier. A miss is reported as ok == false with a nil error.
type Tier interface {
	Get(key string) (value string, ok bool, err error)
	Put(key, value string) error
}

// NormalizeID trims a raw paper identifier down to the form the source
// understands: surrounding whitespace, an "arXiv:" scheme, an abs/ or pdf/
// path prefix and a trailing ".pdf" are removed.
func NormalizeID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if len(id) >= 6 && strings.EqualFold(id[:6], "arxiv:") {
		id = id[6:]
	}
	id = strings.TrimLeft(id, "/")
	for _, prefix := range []string{"abs/", "pdf/"} {
		if len(id) >= len(prefix) && strings.EqualFold(id[:len(prefix)], prefix) {
			id = id[len(prefix):]
			break
		}
	}
	if len(id) >= 4 && strings.EqualFold(id[len(id)-4:], ".pdf") {
		id = id[:len(id)-4]
	}
	id = strings.Trim(id, "/")

	if id == "" || !isASCII(id) {
		return "", ErrInvalidID
	}
	return id, nil
}

// CanonicalKey returns the normalized identifier and the cache key it maps to.
// Every spelling of the same document (/abs/X, /pdf/X, /pdf/X.pdf, case
// variants) shares one key.
func CanonicalKey(raw string) (id string, key string, err error) {
	id, err = NormalizeID(raw)
	if err != nil {
		return "", "", err
	}
	return id, KeyPrefix + strings.ToLower(id), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || s[i] < 0x20 {
			return false
		}
	}
	return true
}
