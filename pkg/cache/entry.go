package cache

import (
	"net/http"
	"strconv"
	"time"
)

// Headers written and read by the caching strategies.
const (
	// HeaderCachedAt holds the millisecond epoch at which an entry was stored.
	HeaderCachedAt = "X-Cached-At"

	// HeaderFromCache marks a response served from the API store fallback.
	HeaderFromCache = "X-From-Cache"

	// HeaderCacheAge is the age in milliseconds of a fallback response.
	HeaderCacheAge = "X-Cache-Age"
)

// Entry is a stored response envelope.
type Entry struct {
	// URL is the full request URL the response was stored under.
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Status is the status line text (e.g. "200 OK")
	Status string `json:"status"`

	// Header holds the response headers, including envelope metadata
	Header http.Header `json:"header"`

	// Body is the response body
	Body []byte `json:"body"`
}

// Stamp records now as the entry's cached-at time.
func (e *Entry) Stamp(now time.Time) {
	if e.Header == nil {
		e.Header = make(http.Header)
	}
	e.Header.Set(HeaderCachedAt, strconv.FormatInt(now.UnixMilli(), 10))
}

// IsLegacy reports whether the entry predates stamping: no timestamp, or a
// zero one. Such entries are served without an age check.
func (e *Entry) IsLegacy() bool {
	raw := e.Header.Get(HeaderCachedAt)
	if raw == "" {
		return true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	return err == nil && ms == 0
}

// CachedAt returns the stored cached-at time.
// ok is false for entries without a usable timestamp.
func (e *Entry) CachedAt() (t time.Time, ok bool) {
	raw := e.Header.Get(HeaderCachedAt)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Age returns how long ago the entry was stamped, relative to now.
// Legacy entries report ok=false.
func (e *Entry) Age(now time.Time) (age time.Duration, ok bool) {
	cachedAt, ok := e.CachedAt()
	if !ok {
		return 0, false
	}
	return now.Sub(cachedAt), true
}

// IsFresh reports whether a stamped entry is younger than window.
// Legacy entries are never fresh; callers decide how to treat them.
func (e *Entry) IsFresh(now time.Time, window time.Duration) bool {
	age, ok := e.Age(now)
	return ok && age < window
}

// Clone returns a deep copy so callers can decorate headers safely.
func (e *Entry) Clone() *Entry {
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	return &Entry{
		URL:        e.URL,
		StatusCode: e.StatusCode,
		Status:     e.Status,
		Header:     e.Header.Clone(),
		Body:       body,
	}
}
