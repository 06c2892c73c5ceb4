// Package proxy adapts the dispatcher to net/http.
//
// The Handler reads the inbound request, prepares forwarding headers,
// hands the request to the dispatcher and writes either the downstream
// response or a JSON error mapped from the dispatcher's error.
//
//	h := proxy.NewHandler(dispatcher, proxy.WithLogger(logger))
//	http.Handle("/", h)
package proxy
