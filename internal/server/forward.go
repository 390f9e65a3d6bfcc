package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmproxy/llmproxy/internal/apperr"
	"github.com/llmproxy/llmproxy/internal/applog"
	"github.com/llmproxy/llmproxy/internal/metrics"
	"github.com/llmproxy/llmproxy/internal/ratelimit"
	"github.com/llmproxy/llmproxy/internal/state"
)

// Forward is one listening endpoint (spec §4.5): a bound listener, a
// reference to its forward's router, and a reference to the shared
// upstream manager reached through the live state.Snapshot.
type Forward struct {
	Name     string
	Listener net.Listener
	Store    *state.Store // consulted per-request so config hot-swap applies without restarting the listener

	httpServer *http.Server
}

// NewForward binds a listener for forward f's address:port and builds
// the http.Server that will serve it, wrapping the handler with
// forward f's optional rate-limit middleware (spec §4.5: rate-limit is
// outermost, connect-timeout innermost via http.Server.ReadHeaderTimeout).
func NewForward(ctx context.Context, name string, store *state.Store) (*Forward, error) {
	snap := store.Load()
	f := snap.Forwards[name]
	if f == nil {
		return nil, apperr.New(apperr.KindConfig, "forward %q not present in snapshot", name)
	}

	addr := net.JoinHostPort(f.Address, strconv.Itoa(f.Port))
	ln, err := Listen(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, err, "binding forward %q on %q", name, addr)
	}

	fwd := &Forward{Name: name, Listener: ln, Store: store}

	var handler http.Handler = http.HandlerFunc(fwd.handle)
	if f.RateLimit.Enabled {
		limiter := ratelimit.New(float64(f.RateLimit.PerSecond), f.RateLimit.Burst)
		handler = ratelimit.Middleware(limiter, func(r *http.Request) {
			metrics.RatelimitRejectedTotal.WithLabelValues(name).Inc()
		}, handler)
	}

	fwd.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: f.ConnectTimeout,
	}
	return fwd, nil
}

// Serve runs the listen loop until the listener is closed.
func (f *Forward) Serve() error {
	err := f.httpServer.Serve(f.Listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, bounded by ctx's
// deadline (spec §5 shutdown_timeout).
func (f *Forward) Shutdown(ctx context.Context) error {
	return f.httpServer.Shutdown(ctx)
}

// handle implements spec §4.5's seven-step request flow.
func (f *Forward) handle(w http.ResponseWriter, r *http.Request) {
	r, reqID := withRequestID(r)
	w.Header().Set(requestIDHeader, reqID)

	snap := f.Store.Load()
	fwd := snap.Forwards[f.Name]

	path := normalizePath(r.URL.Path)
	method := metrics.SanitizeMethod(r.Method)
	metrics.HTTPRequestsTotal.WithLabelValues(f.Name, method).Inc()
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.fail(w, f.Name, method, start, http.StatusBadRequest, metrics.ErrorRequest)
		return
	}

	groupName, _ := fwd.Router.Resolve(path)

	result, err := snap.Manager.Forward(r.Context(), groupName, r.Method, path, r.Header.Clone(), body)
	if err != nil {
		status := apperr.ForwardHTTPStatus(err)
		applog.L().Debug("forward failed",
			zap.String("forward", f.Name), zap.String("path", path),
			zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
		f.fail(w, f.Name, method, start, status, metrics.ErrorUpstream)
		return
	}
	defer result.Body.Close()

	copyHeaders(w.Header(), result.Header)
	w.WriteHeader(result.StatusCode)

	if isStreaming(result.Header) {
		flushCopy(w, result.Body)
	} else {
		io.Copy(w, result.Body)
	}

	metrics.HTTPRequestDurationSeconds.WithLabelValues(f.Name, method).Observe(time.Since(start).Seconds())
	if result.StatusCode >= 400 {
		metrics.HTTPRequestErrorsTotal.WithLabelValues(f.Name, metrics.ErrorUpstream, metrics.SanitizeCode(result.StatusCode)).Inc()
	}
}

func (f *Forward) fail(w http.ResponseWriter, forward, method string, start time.Time, status int, errKind string) {
	metrics.HTTPRequestErrorsTotal.WithLabelValues(forward, errKind, metrics.SanitizeCode(status)).Inc()
	metrics.HTTPRequestDurationSeconds.WithLabelValues(forward, method).Observe(time.Since(start).Seconds())
	w.WriteHeader(status)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// isStreaming matches spec §4.5: Content-Type containing
// text/event-stream, or Transfer-Encoding containing chunked.
func isStreaming(h http.Header) bool {
	if strings.Contains(h.Get("Content-Type"), "text/event-stream") {
		return true
	}
	if strings.Contains(h.Get("Transfer-Encoding"), "chunked") {
		return true
	}
	return false
}

// flushCopy relays body to w chunk-by-chunk, flushing after every
// chunk when the ResponseWriter supports it, so a streamed upstream
// response isn't buffered by an intermediate layer.
func flushCopy(w http.ResponseWriter, body io.Reader) {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
