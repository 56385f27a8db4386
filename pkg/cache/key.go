package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Store name prefixes combined with the version tag.
const (
	StaticPrefix = "static"
	APIPrefix    = "api"
)

// DefaultVersion is the version tag used when none is configured.
const DefaultVersion = "v1.0.0"

// Names holds the two store names derived from a version tag.
type Names struct {
	Version string
	Static  string
	API     string
}

// NamesForVersion derives the store names for a version tag.
//
// Example:
//
//	NamesForVersion("v1.0.0") // {Static: "static-v1.0.0", API: "api-v1.0.0"}
func NamesForVersion(version string) Names {
	return Names{
		Version: version,
		Static:  fmt.Sprintf("%s-%s", StaticPrefix, version),
		API:     fmt.Sprintf("%s-%s", APIPrefix, version),
	}
}

// Current reports whether name is one of the two current store names.
func (n Names) Current(name string) bool {
	return name == n.Static || name == n.API
}

// RequestKey returns the identity of a request inside a store: the full URL.
// Fragments never reach the network and are dropped.
func RequestKey(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return URLKey(req.URL.String())
}

// URLKey normalizes a raw URL string into a store key.
func URLKey(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// credentialMarker separates a request key from its credential partition.
// Keys never contain '#' otherwise, since URLKey drops fragments.
const credentialMarker = "#credentials="

// PartitionKey returns the store key of a request that may carry
// credentials. Requests with an Authorization or Cookie header get a key
// of their own, derived from a hash of both headers, so one caller's
// responses are never matched for another.
func PartitionKey(req *http.Request) string {
	key := RequestKey(req)
	if req == nil {
		return key
	}
	auth := req.Header.Values("Authorization")
	cookies := req.Header.Values("Cookie")
	if len(auth) == 0 && len(cookies) == 0 {
		return key
	}

	h := sha256.New()
	for _, v := range auth {
		h.Write([]byte("authorization:" + v + "\n"))
	}
	for _, v := range cookies {
		h.Write([]byte("cookie:" + v + "\n"))
	}
	return key + credentialMarker + hex.EncodeToString(h.Sum(nil)[:16])
}
