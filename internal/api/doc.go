// Package api exposes the sync layer to web peers over HTTP and WebSocket.
//
// It provides read access to the shared document, local writes (which flow
// out through the sync core's published selectors), RPC invocation, change
// history, and a WebSocket stream of flat changes filtered by selector.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// All endpoints except /health require a bearer JWT signed with the
// configured secret (HS256). WebSocket clients pass the token as a query
// parameter since browsers cannot set headers on upgrade requests.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
