package proxy

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// hopHeaders are connection-level headers that are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handleForward sends an inbound request to the origin through the
// registration and copies the answer back.
func (s *Server) handleForward(c echo.Context) error {
	in := c.Request()

	out, err := http.NewRequestWithContext(in.Context(), in.Method, s.targetURL(in), in.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out.Header = in.Header.Clone()
	removeHopHeaders(out.Header)
	out.Header.Set("X-Forwarded-For", c.RealIP())
	out.Header.Set("X-Forwarded-Host", in.Host)
	out.ContentLength = in.ContentLength

	resp, err := s.registration.RoundTrip(out)
	if err != nil {
		// Only requests the worker does not intercept can fail here.
		s.logger.Warn().Err(err).Str("method", in.Method).Str("url", out.URL.String()).Msg("Upstream request failed")
		return echo.NewHTTPError(http.StatusBadGateway, "upstream unavailable")
	}
	defer resp.Body.Close()

	header := c.Response().Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	removeHopHeaders(header)

	c.Response().WriteHeader(resp.StatusCode)
	if in.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		s.logger.Debug().Err(err).Str("url", out.URL.String()).Msg("Copying response body failed")
	}
	return nil
}

// targetURL maps an inbound request onto the origin: origin path prefix,
// inbound path and query.
func (s *Server) targetURL(in *http.Request) string {
	target := *s.origin
	target.Path = strings.TrimSuffix(s.origin.Path, "/") + in.URL.Path
	target.RawPath = ""
	target.RawQuery = in.URL.RawQuery
	target.Fragment = ""
	return target.String()
}

func removeHopHeaders(h http.Header) {
	for _, key := range hopHeaders {
		h.Del(key)
	}
}
