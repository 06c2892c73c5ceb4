package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// KeyInput describes the request parts that identify a cached response.
type KeyInput struct {
	Region      string
	Method      string
	Path        string
	RawQuery    string
	Header      http.Header
	VaryHeaders []string
	Body        []byte
}

// Key returns EntryKey(region, fingerprint) where the fingerprint is a SHA256 of
// the method, downstream path and query, the vary headers in sorted
// order, and a hash of the body when one is present.
func Key(in KeyInput) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(strings.ToUpper(in.Method))
	write(in.Path)
	write(in.RawQuery)

	if len(in.VaryHeaders) > 0 {
		names := make([]string, 0, len(in.VaryHeaders))
		for _, name := range in.VaryHeaders {
			names = append(names, http.CanonicalHeaderKey(name))
		}
		sort.Strings(names)
		for _, name := range names {
			write(name + "=" + strings.Join(in.Header.Values(name), ","))
		}
	}

	if len(in.Body) > 0 {
		sum := sha256.Sum256(in.Body)
		write(hex.EncodeToString(sum[:]))
	}

	return EntryKey(in.Region, hex.EncodeToString(h.Sum(nil)))
}

// EntryKey joins a region and a fingerprint into a cache key. The region
// is length-prefixed so no region's prefix is a prefix of another's,
// e.g. "orders" and "orders:v2".
func EntryKey(region, fingerprint string) string {
	return regionPrefix(region) + fingerprint
}

func regionPrefix(region string) string {
	return strconv.Itoa(len(region)) + ":" + region + ":"
}

// Cacheable reports whether responses to method may be cached.
func Cacheable(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
