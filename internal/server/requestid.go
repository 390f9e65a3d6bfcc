package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDCtxKey struct{}

// requestIDHeader lets an upstream client supply its own correlation ID;
// otherwise one is generated per request, mirroring caddy's
// caddyhttp/requestid middleware.
const requestIDHeader = "X-Request-Id"

func withRequestID(r *http.Request) (*http.Request, string) {
	id := r.Header.Get(requestIDHeader)
	if id == "" || uuid.Validate(id) != nil {
		id = uuid.New().String()
	}
	ctx := context.WithValue(r.Context(), requestIDCtxKey{}, id)
	return r.WithContext(ctx), id
}

// requestIDFrom returns the correlation ID attached by withRequestID, or
// "" if none is present (e.g. in a test request built without it).
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}
