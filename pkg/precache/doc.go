// Package precache fetches the install manifest of the caching proxy.
//
// An install only succeeds when every manifest URL was fetched with a 2xx
// status. The fetcher runs the requests in parallel with bounded
// concurrency and cancels the remaining requests on the first failure:
//
//	fetcher := precache.New(upstream, precache.DefaultConfig())
//	entries, err := fetcher.FetchAll(ctx, precache.ResolveManifest(origin, precache.DefaultManifest))
//	if err != nil {
//		// install failed, store nothing
//	}
//
// Nothing is retried and nothing is stored by this package; the caller
// decides where the returned entries go.
package precache
