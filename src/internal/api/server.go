package api

import (
	"context"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"aphorism/src/internal/domain"
	"aphorism/src/internal/service/livereload"
)

const readHeaderTimeout = 10 * time.Second

type Api struct {
	ctx    *domain.Context
	reload http.Handler
	server *http.Server
	errLog io.Closer
}

// Create builds the HTTP side of the server. reload is the live reload
// websocket endpoint; pass nil to leave it unrouted.
func Create(ctx *domain.Context, reload http.Handler) *Api {
	registerMimeTypes()

	a := &Api{
		ctx:    ctx,
		reload: reload,
	}

	errLog := ctx.Logger.WriterLevel(logrus.WarnLevel)
	a.errLog = errLog
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          log.New(errLog, "", 0),

		// OPTIONS * must reach withCORS like any other pre-flight
		DisableGeneralOptionsHandler: true,
	}
	return a
}

// Fix MIME types: minimal Linux images often have no /etc/mime.types and
// WebViews reject stylesheets and modules served with the wrong type.
func registerMimeTypes() {
	mime.AddExtensionType(".css", "text/css; charset=utf-8")
	mime.AddExtensionType(".js", "text/javascript; charset=utf-8")
	mime.AddExtensionType(".mjs", "text/javascript; charset=utf-8")
	mime.AddExtensionType(".html", "text/html; charset=utf-8")
	mime.AddExtensionType(".svg", "image/svg+xml")
	mime.AddExtensionType(".json", "application/json")
	mime.AddExtensionType(".wasm", "application/wasm")
	mime.AddExtensionType(".webmanifest", "application/manifest+json")
}

// Handler is the full request pipeline. CORS headers go on before the
// router so they survive every status the inner handlers may produce.
func (a *Api) Handler() http.Handler {
	r := mux.NewRouter()
	// http.FileServer cleans the path itself; a router redirect here would
	// only add a hop.
	r.SkipClean(true)

	if a.reload != nil {
		r.Path(domain.LiveReloadPath).Methods(http.MethodGet).Handler(a.reload)
		r.Path(domain.LiveReloadScript).Methods(http.MethodGet, http.MethodHead).Handler(livereload.ScriptHandler())
	}

	// Static files, dot-files excluded
	r.PathPrefix("/").Handler(http.FileServer(hideDotFiles{http.Dir(a.ctx.Config.BaseDir)}))

	return withRequestLog(a.ctx.Logger, withCORS(r))
}

// withCORS answers pre-flights on any path, "*" included, without touching
// the filesystem.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", domain.AllowOrigin)
		h.Set("Access-Control-Allow-Methods", domain.AllowMethods)
		h.Set("Access-Control-Allow-Headers", domain.AllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve blocks accepting connections on ln until Shutdown or Close.
func (a *Api) Serve(ln net.Listener) error {
	return a.server.Serve(ln)
}

// Shutdown stops accepting and waits for in-flight requests until ctx
// expires, at which point remaining connections are dropped.
func (a *Api) Shutdown(ctx context.Context) error {
	defer a.errLog.Close()

	err := a.server.Shutdown(ctx)
	if err != nil {
		a.server.Close()
	}
	return err
}

// Close drops every connection at once. Used when Serve already failed.
func (a *Api) Close() error {
	defer a.errLog.Close()
	return a.server.Close()
}
