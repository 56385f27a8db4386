package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// ResponseToEntry converts an HTTP response to an Entry.
// The response body is read fully and restored so the caller can still
// consume it; the returned entry owns an independent copy. Set-Cookie is
// dropped from the stored headers only.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       append([]byte(nil), body...),
	}
	if entry.Header == nil {
		entry.Header = make(http.Header)
	}
	// Cookies set for one caller must never be replayed to another.
	entry.Header.Del("Set-Cookie")
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = resp.Request.URL.String()
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a stored entry.
// The response gets its own copy of headers and body.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	if entry == nil {
		return nil
	}

	status := entry.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode))
	}

	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	return &http.Response{
		Status:        status,
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
