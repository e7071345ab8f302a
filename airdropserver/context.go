package airdropserver

import (
	"context"
	"net/http"
)

func withThumbprint(ctx context.Context, thumbprint string) context.Context {
	return context.WithValue(ctx, peerThumbprintKey, thumbprint)
}

func thumbprintFrom(ctx context.Context) string {
	v, _ := ctx.Value(peerThumbprintKey).(string)
	return v
}

type contextKey string

const peerThumbprintKey contextKey = "peerThumbprint"

// withPeerThumbprint wraps handler so every request carries the TLS peer
// certificate thumbprint of the connection it arrived on, letting /Upload
// correlate itself against a prior /Ask from the same peer without
// threading the value through gorilla/mux routing.
func withPeerThumbprint(handler http.Handler, thumbprint string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = withThumbprint(ctx, thumbprint)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}
