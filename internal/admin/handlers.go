package admin

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmproxy/llmproxy/internal/apperr"
	"github.com/llmproxy/llmproxy/internal/config"
	"github.com/llmproxy/llmproxy/internal/metrics"
)

// adminAuthTokenEnv names the environment variable that, if set,
// requires every admin request to carry a matching bearer token
// (spec §6).
const adminAuthTokenEnv = "LLMPROXY_ADMIN_AUTH_TOKEN"

// NewMux builds the admin HTTP handler: the `/api/v1` resource tree,
// plus `/health` and `/metrics` (spec §6, §10).
func NewMux(m *Mutator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/v1/forwards", withMutator(m, listForwards))
	mux.HandleFunc("GET /api/v1/forwards/{name}", withMutator(m, getForward))
	mux.HandleFunc("PUT /api/v1/forwards/{name}", withMutator(m, putForward))
	mux.HandleFunc("DELETE /api/v1/forwards/{name}", withMutator(m, deleteForward))

	mux.HandleFunc("GET /api/v1/forwards/{name}/routes", withMutator(m, listRoutes))
	mux.HandleFunc("PUT /api/v1/forwards/{name}/routes/{path}", withMutator(m, putRoute))
	mux.HandleFunc("DELETE /api/v1/forwards/{name}/routes/{path}", withMutator(m, deleteRoute))

	mux.HandleFunc("GET /api/v1/upstreams", withMutator(m, listUpstreams))
	mux.HandleFunc("GET /api/v1/upstreams/{name}", withMutator(m, getUpstream))
	mux.HandleFunc("PUT /api/v1/upstreams/{name}", withMutator(m, putUpstream))
	mux.HandleFunc("DELETE /api/v1/upstreams/{name}", withMutator(m, deleteUpstream))

	mux.HandleFunc("GET /api/v1/upstream-groups", withMutator(m, listGroups))
	mux.HandleFunc("GET /api/v1/upstream-groups/{name}", withMutator(m, getGroup))
	mux.HandleFunc("PUT /api/v1/upstream-groups/{name}", withMutator(m, putGroup))
	mux.HandleFunc("DELETE /api/v1/upstream-groups/{name}", withMutator(m, deleteGroup))

	return authMiddleware(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authMiddleware enforces the optional bearer token gate: if
// LLMPROXY_ADMIN_AUTH_TOKEN is set, every request (except /health)
// must carry a matching `Authorization: Bearer <token>` header.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := os.Getenv(adminAuthTokenEnv)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		want := "Bearer " + token
		if got := r.Header.Get("Authorization"); got != want {
			writeError(w, apperr.New(apperr.KindAuth, "missing or invalid admin bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type mutatorHandler func(m *Mutator, w http.ResponseWriter, r *http.Request)

func withMutator(m *Mutator, h mutatorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(m, w, r)
	}
}

// decodeRoutePath reverses the URL-safe base64 encoding routes carry
// in admin URLs (spec §6), so arbitrary patterns survive segmenting.
func decodeRoutePath(encoded string) (string, error) {
	b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(encoded)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err, "invalid base64 route path segment")
	}
	return string(b), nil
}

func encodeRoutePath(path string) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(path))
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// --- forwards ------------------------------------------------------------

func listForwards(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	writeSuccess(w, http.StatusOK, cfg.HTTPServer.Forwards)
}

func getForward(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	name := r.PathValue("name")
	for _, f := range cfg.HTTPServer.Forwards {
		if f.Name == name {
			writeSuccess(w, http.StatusOK, f)
			return
		}
	}
	writeError(w, apperr.New(apperr.KindNotFound, "forward %q not found", name))
}

func putForward(m *Mutator, w http.ResponseWriter, r *http.Request) {
	var body config.Forward
	if err := decodeBody(r, &body); err != nil {
		writeValidationError(w, err)
		return
	}
	body.Name = r.PathValue("name")

	err := m.Mutate(func(cfg *config.Config) error {
		forwards := make([]config.Forward, 0, len(cfg.HTTPServer.Forwards)+1)
		replaced := false
		for _, f := range cfg.HTTPServer.Forwards {
			if f.Name == body.Name {
				forwards = append(forwards, body)
				replaced = true
				continue
			}
			forwards = append(forwards, f)
		}
		if !replaced {
			forwards = append(forwards, body)
		}
		cfg.HTTPServer.Forwards = forwards
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, body)
}

func deleteForward(m *Mutator, w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := m.Mutate(func(cfg *config.Config) error {
		forwards := make([]config.Forward, 0, len(cfg.HTTPServer.Forwards))
		found := false
		for _, f := range cfg.HTTPServer.Forwards {
			if f.Name == name {
				found = true
				continue
			}
			forwards = append(forwards, f)
		}
		if !found {
			return apperr.New(apperr.KindNotFound, "forward %q not found", name)
		}
		cfg.HTTPServer.Forwards = forwards
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// --- routes ----------------------------------------------------------------

func listRoutes(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	name := r.PathValue("name")
	for _, f := range cfg.HTTPServer.Forwards {
		if f.Name == name {
			type wireRoute struct {
				Path        string `json:"path"`
				TargetGroup string `json:"target_group"`
				Encoded     string `json:"encoded_path"`
			}
			out := make([]wireRoute, 0, len(f.Routing))
			for _, rt := range f.Routing {
				out = append(out, wireRoute{Path: rt.Path, TargetGroup: rt.TargetGroup, Encoded: encodeRoutePath(rt.Path)})
			}
			writeSuccess(w, http.StatusOK, out)
			return
		}
	}
	writeError(w, apperr.New(apperr.KindNotFound, "forward %q not found", name))
}

func putRoute(m *Mutator, w http.ResponseWriter, r *http.Request) {
	fwdName := r.PathValue("name")
	path, err := decodeRoutePath(r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		TargetGroup string `json:"target_group"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeValidationError(w, err)
		return
	}

	err = m.Mutate(func(cfg *config.Config) error {
		for i := range cfg.HTTPServer.Forwards {
			f := &cfg.HTTPServer.Forwards[i]
			if f.Name != fwdName {
				continue
			}
			routes := make([]config.Route, 0, len(f.Routing)+1)
			replaced := false
			for _, rt := range f.Routing {
				if rt.Path == path {
					routes = append(routes, config.Route{Path: path, TargetGroup: body.TargetGroup})
					replaced = true
					continue
				}
				routes = append(routes, rt)
			}
			if !replaced {
				routes = append(routes, config.Route{Path: path, TargetGroup: body.TargetGroup})
			}
			f.Routing = routes
			return nil
		}
		return apperr.New(apperr.KindNotFound, "forward %q not found", fwdName)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func deleteRoute(m *Mutator, w http.ResponseWriter, r *http.Request) {
	fwdName := r.PathValue("name")
	path, err := decodeRoutePath(r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}

	err = m.Mutate(func(cfg *config.Config) error {
		for i := range cfg.HTTPServer.Forwards {
			f := &cfg.HTTPServer.Forwards[i]
			if f.Name != fwdName {
				continue
			}
			routes := make([]config.Route, 0, len(f.Routing))
			found := false
			for _, rt := range f.Routing {
				if rt.Path == path {
					found = true
					continue
				}
				routes = append(routes, rt)
			}
			if !found {
				return apperr.New(apperr.KindNotFound, "route %q not found on forward %q", path, fwdName)
			}
			f.Routing = routes
			return nil
		}
		return apperr.New(apperr.KindNotFound, "forward %q not found", fwdName)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// --- upstreams ---------------------------------------------------------------

func listUpstreams(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	writeSuccess(w, http.StatusOK, cfg.Upstreams)
}

func getUpstream(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	name := r.PathValue("name")
	for _, u := range cfg.Upstreams {
		if u.Name == name {
			writeSuccess(w, http.StatusOK, u)
			return
		}
	}
	writeError(w, apperr.New(apperr.KindNotFound, "upstream %q not found", name))
}

func putUpstream(m *Mutator, w http.ResponseWriter, r *http.Request) {
	var body config.Upstream
	if err := decodeBody(r, &body); err != nil {
		writeValidationError(w, err)
		return
	}
	body.Name = r.PathValue("name")

	err := m.Mutate(func(cfg *config.Config) error {
		ups := make([]config.Upstream, 0, len(cfg.Upstreams)+1)
		replaced := false
		for _, u := range cfg.Upstreams {
			if u.Name == body.Name {
				ups = append(ups, body)
				replaced = true
				continue
			}
			ups = append(ups, u)
		}
		if !replaced {
			ups = append(ups, body)
		}
		cfg.Upstreams = ups
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, body)
}

func deleteUpstream(m *Mutator, w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := m.Mutate(func(cfg *config.Config) error {
		for _, g := range cfg.UpstreamGroups {
			for _, ref := range g.Upstreams {
				if ref.Name == name {
					return apperr.New(apperr.KindConflict, "upstream %q still referenced by group %q", name, g.Name)
				}
			}
		}
		ups := make([]config.Upstream, 0, len(cfg.Upstreams))
		found := false
		for _, u := range cfg.Upstreams {
			if u.Name == name {
				found = true
				continue
			}
			ups = append(ups, u)
		}
		if !found {
			return apperr.New(apperr.KindNotFound, "upstream %q not found", name)
		}
		cfg.Upstreams = ups
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// --- upstream groups -----------------------------------------------------

func listGroups(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	writeSuccess(w, http.StatusOK, cfg.UpstreamGroups)
}

func getGroup(m *Mutator, w http.ResponseWriter, r *http.Request) {
	cfg := m.View()
	name := r.PathValue("name")
	for _, g := range cfg.UpstreamGroups {
		if g.Name == name {
			writeSuccess(w, http.StatusOK, g)
			return
		}
	}
	writeError(w, apperr.New(apperr.KindNotFound, "upstream group %q not found", name))
}

func putGroup(m *Mutator, w http.ResponseWriter, r *http.Request) {
	var body config.UpstreamGroup
	if err := decodeBody(r, &body); err != nil {
		writeValidationError(w, err)
		return
	}
	body.Name = r.PathValue("name")

	err := m.Mutate(func(cfg *config.Config) error {
		groups := make([]config.UpstreamGroup, 0, len(cfg.UpstreamGroups)+1)
		replaced := false
		for _, g := range cfg.UpstreamGroups {
			if g.Name == body.Name {
				groups = append(groups, body)
				replaced = true
				continue
			}
			groups = append(groups, g)
		}
		if !replaced {
			groups = append(groups, body)
		}
		cfg.UpstreamGroups = groups
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, body)
}

func deleteGroup(m *Mutator, w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := m.Mutate(func(cfg *config.Config) error {
		for _, f := range cfg.HTTPServer.Forwards {
			if f.DefaultGroup == name {
				return apperr.New(apperr.KindConflict, "upstream group %q still referenced by forward %q", name, f.Name)
			}
			for _, rt := range f.Routing {
				if rt.TargetGroup == name {
					return apperr.New(apperr.KindConflict, "upstream group %q still referenced by forward %q route %q", name, f.Name, rt.Path)
				}
			}
		}
		groups := make([]config.UpstreamGroup, 0, len(cfg.UpstreamGroups))
		found := false
		for _, g := range cfg.UpstreamGroups {
			if g.Name == name {
				found = true
				continue
			}
			groups = append(groups, g)
		}
		if !found {
			return apperr.New(apperr.KindNotFound, "upstream group %q not found", name)
		}
		cfg.UpstreamGroups = groups
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}
