// Package classify decides which caching strategy applies to a request.
//
// Classification is stateless and evaluated per request. Static assets are
// checked first, then cacheable API routes; the first match wins and
// anything else falls through to the default network-first handling.
package classify

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Class is the outcome of classifying a request.
type Class string

const (
	// ClassBypass means the request is not intercepted at all.
	ClassBypass Class = "bypass"

	// ClassStatic selects cache-first against the static store.
	ClassStatic Class = "static"

	// ClassAPI selects network-first with a freshness window against the API store.
	ClassAPI Class = "api"

	// ClassDefault selects plain network-first without caching.
	ClassDefault Class = "default"
)

// Rules is the URL classification rule set.
type Rules struct {
	// StaticMarkers are substrings that mark a URL as a static asset
	// when found anywhere in it.
	StaticMarkers []string

	// APIPatterns match cacheable API URLs.
	APIPatterns []*regexp.Regexp
}

// DefaultStaticMarkers are the asset path segment and file extensions
// served cache-first.
var DefaultStaticMarkers = []string{
	"/assets/",
	".js",
	".css",
	".png",
	".jpg",
	".jpeg",
	".svg",
	".woff",
	".woff2",
	".ttf",
}

// DefaultAPIPatterns are the analytics and bot data routes served
// network-first with the freshness window.
var DefaultAPIPatterns = []string{
	`/api/analytics/.*/dashboard`,
	`/api/analytics/.*/metrics`,
	`/api/analytics/.*/funnel`,
	`/api/bots/.*`,
}

// DefaultRules returns the dashboard's rule set.
func DefaultRules() Rules {
	rules, err := NewRules(DefaultStaticMarkers, DefaultAPIPatterns)
	if err != nil {
		panic(err)
	}
	return rules
}

// NewRules compiles a rule set.
func NewRules(staticMarkers, apiPatterns []string) (Rules, error) {
	rules := Rules{
		StaticMarkers: append([]string(nil), staticMarkers...),
		APIPatterns:   make([]*regexp.Regexp, 0, len(apiPatterns)),
	}
	for _, pattern := range apiPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Rules{}, fmt.Errorf("compile api pattern %q: %w", pattern, err)
		}
		rules.APIPatterns = append(rules.APIPatterns, re)
	}
	return rules, nil
}

// Intercepted reports whether the proxy handles the request at all.
// Only GET requests over http or https are intercepted.
func Intercepted(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodGet && req.Method != "" {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// Classify returns the strategy class for req.
func (r Rules) Classify(req *http.Request) Class {
	if !Intercepted(req) {
		return ClassBypass
	}
	return r.ClassifyURL(req.URL.String())
}

// ClassifyURL classifies a raw URL without method or scheme checks.
func (r Rules) ClassifyURL(rawURL string) Class {
	if r.IsStatic(rawURL) {
		return ClassStatic
	}
	if r.IsCacheableAPI(rawURL) {
		return ClassAPI
	}
	return ClassDefault
}

// IsStatic reports whether the URL contains any static marker.
func (r Rules) IsStatic(rawURL string) bool {
	for _, marker := range r.StaticMarkers {
		if strings.Contains(rawURL, marker) {
			return true
		}
	}
	return false
}

// IsCacheableAPI reports whether the URL matches any API pattern.
func (r Rules) IsCacheableAPI(rawURL string) bool {
	for _, re := range r.APIPatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}
