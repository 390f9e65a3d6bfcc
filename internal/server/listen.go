// Package server implements the forward listener of spec §4.5: a
// bound TCP listener with SO_REUSEADDR everywhere and SO_REUSEPORT on
// Linux, plus the per-request handling pipeline and its optional
// rate-limit/timeout middleware. The listener construction is
// grounded on caddy's listen.go/listen_linux.go split; the platform
// socket option is set through net.ListenConfig.Control exactly as
// caddy's ListenTimeout does.
package server

import (
	"context"
	"net"
	"syscall"

	"go.uber.org/zap"

	"github.com/llmproxy/llmproxy/internal/applog"
)

// listenConfig returns a net.ListenConfig whose Control sets socket
// options before bind: SO_REUSEADDR everywhere, SO_REUSEPORT where the
// platform hook (listen_linux.go / listen_other.go) supports it.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{Control: controlReuse}
}

func controlReuse(network, address string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		if err := setReuseAddr(fd); err != nil {
			applog.L().Warn("setting SO_REUSEADDR failed", zap.String("address", address), zap.Error(err))
		}
		if err := reusePort(fd); err != nil {
			applog.L().Warn("setting SO_REUSEPORT failed", zap.String("address", address), zap.Error(err))
		}
	})
}

// Listen binds address (host:port) for TCP, with SO_REUSEADDR and, on
// Linux, SO_REUSEPORT set on the listening socket before bind.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	return listenConfig().Listen(ctx, "tcp", address)
}
