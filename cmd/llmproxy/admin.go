package llmproxy

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/llmproxy/llmproxy/internal/admin"
	"github.com/llmproxy/llmproxy/internal/config"
	"github.com/llmproxy/llmproxy/internal/server"
)

// adminListener binds and serves the admin API (spec §4.6) on its own
// address:port, separately from every forward's listener.
type adminListener struct {
	ln  net.Listener
	srv *http.Server
}

func (a *adminListener) start(ctx context.Context, cfg config.Admin, m *admin.Mutator) error {
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	ln, err := server.Listen(ctx, addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.srv = &http.Server{Handler: admin.NewMux(m)}
	go a.srv.Serve(a.ln)
	return nil
}

func (a *adminListener) shutdown(ctx context.Context) error {
	if a.srv == nil {
		return nil
	}
	return a.srv.Shutdown(ctx)
}
