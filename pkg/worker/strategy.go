package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/client"
)

// Strategy names used in logs and metrics.
const (
	strategyCacheFirst   = "cache_first"
	strategyNetworkCache = "network_first_cache"
	strategyNetworkFirst = "network_first"
)

// OfflineMessage is the message of the JSON offline response.
const OfflineMessage = "No internet connection and no cached data available"

// offlineBody is the JSON body returned when the API store has nothing usable.
type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// cacheFirst serves static assets from the static store and only goes to
// the network on a miss. Successful network responses are stored.
func (w *Worker) cacheFirst(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cache.RequestKey(req)
	logger := w.logger.With().Str("strategy", strategyCacheFirst).Str("url", key).Logger()

	store, err := w.caches.Static(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Static store unavailable")
		return w.offline(req, strategyCacheFirst)
	}

	entry, err := store.Match(ctx, key)
	switch {
	case err == nil:
		logger.Debug().Msg("Cache hit")
		strategyResponses.WithLabelValues(strategyCacheFirst, "cache").Inc()
		return cache.EntryToResponse(entry, req)
	case !errors.Is(err, cache.ErrCacheMiss):
		logger.Warn().Err(err).Msg("Static store lookup failed")
		return w.offline(req, strategyCacheFirst)
	}

	logger.Debug().Msg("Cache miss")
	resp, err := w.config.Upstream.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("Network failed")
		return w.offline(req, strategyCacheFirst)
	}

	if client.OK(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			logger.Warn().Err(err).Msg("Reading response failed")
			resp.Body.Close()
			return w.offline(req, strategyCacheFirst)
		}
		if err := store.Put(ctx, key, entry); err != nil {
			logger.Warn().Err(err).Msg("Storing static response failed")
		}
	}

	strategyResponses.WithLabelValues(strategyCacheFirst, "network").Inc()
	return resp
}

// networkFirstWithCache serves API data from the network and stores a
// stamped copy of every successful response. When the network fails or
// answers with a 5xx status, a stamped entry younger than the freshness
// window is served instead, marked with X-From-Cache and X-Cache-Age.
// Legacy entries without a stamp are served as stored. Any other non-2xx
// answer (401, 403, 404) is passed through untouched.
//
// Entries are keyed per caller credentials, see cache.PartitionKey.
func (w *Worker) networkFirstWithCache(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cache.PartitionKey(req)
	logger := w.logger.With().Str("strategy", strategyNetworkCache).Str("url", cache.RequestKey(req)).Logger()

	// A store that cannot be opened behaves like an empty one.
	store, storeErr := w.caches.API(ctx)
	if storeErr != nil {
		logger.Warn().Err(storeErr).Msg("API store unavailable")
		store = nil
	}

	resp, err := w.config.Upstream.Do(req)
	if err == nil && client.OK(resp) {
		if store == nil {
			strategyResponses.WithLabelValues(strategyNetworkCache, "network").Inc()
			return resp
		}
		entry, readErr := cache.ResponseToEntry(resp)
		if readErr == nil {
			entry.Stamp(w.config.Now())
			w.storeInBackground(ctx, store, key, entry)
			strategyResponses.WithLabelValues(strategyNetworkCache, "network").Inc()
			return resp
		}
		resp.Body.Close()
		err = readErr
	} else if err == nil {
		if resp.StatusCode < http.StatusInternalServerError {
			strategyResponses.WithLabelValues(strategyNetworkCache, "network").Inc()
			return resp
		}
		err = client.StatusError(resp)
		resp.Body.Close()
	}

	logger.Info().Err(err).Msg("Network failed, trying cache")
	return w.apiFallback(req, store, key)
}

// apiFallback looks up the API store after a failed network attempt.
func (w *Worker) apiFallback(req *http.Request, store cache.Store, key string) *http.Response {
	logger := w.logger.With().Str("strategy", strategyNetworkCache).Str("url", cache.RequestKey(req)).Logger()

	if store == nil {
		return w.offlineJSON(req)
	}

	entry, err := store.Match(req.Context(), key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("API store lookup failed")
		}
		return w.offlineJSON(req)
	}

	if entry.IsLegacy() {
		logger.Debug().Msg("Serving legacy entry")
		strategyResponses.WithLabelValues(strategyNetworkCache, "cache").Inc()
		return cache.EntryToResponse(entry, req)
	}

	age, ok := entry.Age(w.config.Now())
	if ok && age < 0 {
		// stamped ahead of our clock
		age = 0
	}
	if !ok || age >= w.config.APIWindow {
		logger.Debug().Dur("age", age).Msg("Cached entry is stale")
		return w.offlineJSON(req)
	}

	// Match hands out a private copy, so it can be decorated in place.
	entry.Header.Set(cache.HeaderFromCache, "true")
	entry.Header.Set(cache.HeaderCacheAge, strconv.FormatInt(age.Milliseconds(), 10))

	logger.Debug().Int64("cache_age_ms", age.Milliseconds()).Msg("Serving fresh cached entry")
	strategyResponses.WithLabelValues(strategyNetworkCache, "cache").Inc()
	return cache.EntryToResponse(entry, req)
}

// storeInBackground writes entry without delaying the response. The write
// outlives the request's cancellation and is tracked by Wait.
func (w *Worker) storeInBackground(ctx context.Context, store cache.Store, key string, entry *cache.Entry) {
	ctx = context.WithoutCancel(ctx)

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()

		if err := store.Put(ctx, key, entry); err != nil {
			backgroundWrites.WithLabelValues("error").Inc()
			w.logger.Warn().Err(err).Str("store", store.Name()).Str("url", entry.URL).Msg("Background store write failed")
			return
		}
		backgroundWrites.WithLabelValues("success").Inc()
	}()
}

// networkFirst passes the request to the network and only substitutes a
// response when the network fails.
func (w *Worker) networkFirst(req *http.Request) *http.Response {
	resp, err := w.config.Upstream.Do(req)
	if err != nil {
		w.logger.Warn().Err(err).
			Str("strategy", strategyNetworkFirst).
			Str("url", cache.RequestKey(req)).
			Msg("Network failed")
		return w.offline(req, strategyNetworkFirst)
	}
	strategyResponses.WithLabelValues(strategyNetworkFirst, "network").Inc()
	return resp
}

// offline builds the plain-text 503 of the static and default strategies.
func (w *Worker) offline(req *http.Request, strategy string) *http.Response {
	strategyResponses.WithLabelValues(strategy, "offline").Inc()
	return syntheticResponse(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte("Offline"))
}

// offlineJSON builds the JSON 503 of the API strategy.
func (w *Worker) offlineJSON(req *http.Request) *http.Response {
	strategyResponses.WithLabelValues(strategyNetworkCache, "offline").Inc()
	body, _ := json.Marshal(offlineBody{Error: "Offline", Message: OfflineMessage})
	return syntheticResponse(req, http.StatusServiceUnavailable, "application/json", body)
}

func syntheticResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
