package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aphorism/src/internal/domain"
)

const indexHTML = "<!doctype html><title>Aphorism Echo</title>"

// setupSite lays out <tmp>/secret.txt next to the served <tmp>/site.
func setupSite(t *testing.T) string {
	t.Helper()
	parent := t.TempDir()
	site := filepath.Join(parent, "site")
	require.NoError(t, os.MkdirAll(filepath.Join(site, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte(indexHTML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(site, "js", "app.js"), []byte("class AphorismEcho {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(site, "styles.css"), []byte("body{margin:0}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("top secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(site, ".env"), []byte("PORT=3000\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(site, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(site, ".git", "config"), []byte("[core]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(site, "js", ".secret.js"), []byte("hidden"), 0o644))
	return site
}

func newApi(t *testing.T, reload http.Handler) (*Api, string) {
	t.Helper()
	site := setupSite(t)
	logger, _ := test.NewNullLogger()
	a := Create(&domain.Context{
		Config: domain.Config{BaseDir: site, Port: 0},
		Logger: logger,
	}, reload)
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a, site
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func assertCORS(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSOnEveryResponse(t *testing.T) {
	a, _ := newApi(t, nil)
	h := a.Handler()

	tests := []struct {
		method, target string
		status         int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/index.html", http.StatusMovedPermanently},
		{http.MethodGet, "/js/app.js", http.StatusOK},
		{http.MethodGet, "/js", http.StatusMovedPermanently},
		{http.MethodGet, "/js/", http.StatusOK},
		{http.MethodHead, "/styles.css", http.StatusOK},
		{http.MethodGet, "/missing.png", http.StatusNotFound},
		{http.MethodGet, "/../secret.txt", http.StatusNotFound},
		{http.MethodOptions, "/api/anything", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rr := do(h, tt.method, tt.target)
			assert.Equal(t, tt.status, rr.Code)
			assertCORS(t, rr)
		})
	}
}

func TestPreflight(t *testing.T) {
	a, site := newApi(t, nil)
	h := a.Handler()

	for _, target := range []string{"/", "/does/not/exist", "/index.html", "/a/../../b"} {
		rr := do(h, http.MethodOptions, target)
		assert.Equal(t, http.StatusOK, rr.Code, target)
		assert.Empty(t, rr.Body.String(), target)
		assertCORS(t, rr)
	}

	// Works even with the base directory gone
	require.NoError(t, os.RemoveAll(site))
	rr := do(h, http.MethodOptions, "/index.html")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestGetServesFileBytes(t *testing.T) {
	a, site := newApi(t, nil)
	h := a.Handler()

	want, err := os.ReadFile(filepath.Join(site, "js", "app.js"))
	require.NoError(t, err)

	rr := do(h, http.MethodGet, "/js/app.js")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, want, rr.Body.Bytes())
	assert.Contains(t, rr.Header().Get("Content-Type"), "javascript")

	rr = do(h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, indexHTML, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	rr = do(h, http.MethodGet, "/styles.css")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/css")
}

func TestHeadHasNoBody(t *testing.T) {
	a, _ := newApi(t, nil)

	rr := do(a.Handler(), http.MethodHead, "/index.html")
	// index.html redirects to its directory
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)

	rr = do(a.Handler(), http.MethodHead, "/js/app.js")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestTraversalIsContained(t *testing.T) {
	a, _ := newApi(t, nil)
	h := a.Handler()

	for _, target := range []string{
		"/../secret.txt",
		"/js/../../secret.txt",
		"/%2e%2e/secret.txt",
		"/..%2fsecret.txt",
	} {
		rr := do(h, http.MethodGet, target)
		assert.NotEqual(t, http.StatusOK, rr.Code, target)
		assert.NotContains(t, rr.Body.String(), "top secret", target)
		assertCORS(t, rr)
	}
}

func TestNotFound(t *testing.T) {
	a, _ := newApi(t, nil)

	rr := do(a.Handler(), http.MethodGet, "/nope/missing.html")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assertCORS(t, rr)
}

func TestPostFallsThroughToFileServer(t *testing.T) {
	a, _ := newApi(t, nil)

	rr := do(a.Handler(), http.MethodPost, "/js/app.js")
	assert.NotEqual(t, http.StatusNotFound, rr.Code)
	assertCORS(t, rr)
}

func TestLiveReloadRoutes(t *testing.T) {
	hit := false
	reload := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("enabled", func(t *testing.T) {
		a, _ := newApi(t, reload)
		h := a.Handler()

		rr := do(h, http.MethodGet, domain.LiveReloadPath)
		assert.True(t, hit)
		assert.Equal(t, http.StatusTeapot, rr.Code)
		assertCORS(t, rr)

		rr = do(h, http.MethodGet, domain.LiveReloadScript)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "WebSocket")

		rr = do(h, http.MethodOptions, domain.LiveReloadPath)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Body.String())
	})

	t.Run("disabled", func(t *testing.T) {
		hit = false
		a, _ := newApi(t, nil)
		h := a.Handler()

		assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, domain.LiveReloadPath).Code)
		assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, domain.LiveReloadScript).Code)
		assert.False(t, hit)
	})
}

func TestRequestLog(t *testing.T) {
	site := setupSite(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	a := Create(&domain.Context{Config: domain.Config{BaseDir: site}, Logger: logger}, nil)
	defer a.Shutdown(context.Background())

	do(a.Handler(), http.MethodGet, "/missing")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "request", entry.Message)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Equal(t, "/missing", entry.Data["path"])
}

func TestServeAndShutdown(t *testing.T) {
	a, site := newApi(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- a.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/js/app.js")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	want, err := os.ReadFile(filepath.Join(site, "js", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, want, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	select {
	case err := <-served:
		assert.True(t, errors.Is(err, http.ErrServerClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

// serveOn runs a on a loopback listener and returns its address.
func serveOn(t *testing.T, a *Api) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go a.Serve(ln)
	return ln.Addr().String()
}

func TestOptionsAsteriskCarriesCORS(t *testing.T) {
	a, _ := newApi(t, nil)
	addr := serveOn(t, a)

	for _, target := range []string{"*", "/x"} {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)

		_, err = conn.Write([]byte("OPTIONS " + target + " HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"))
		require.NoError(t, err)

		resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		conn.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, target)
		assert.Empty(t, body, target)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), target)
		assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"), target)
		assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"), target)
	}
}

func TestDotFilesAreNotServed(t *testing.T) {
	a, _ := newApi(t, nil)
	h := a.Handler()

	for _, target := range []string{"/.env", "/.git/config", "/.git/", "/js/.secret.js"} {
		rr := do(h, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, rr.Code, target)
		assert.NotContains(t, rr.Body.String(), "PORT=", target)
		assertCORS(t, rr)
	}

	rr := do(h, http.MethodGet, "/js/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "app.js")
	assert.NotContains(t, rr.Body.String(), ".secret.js")
}

func TestCloseReleasesErrorLog(t *testing.T) {
	a, _ := newApi(t, nil)
	serveOn(t, a)

	require.NoError(t, a.Close())

	_, err := a.errLog.(*io.PipeWriter).Write([]byte("late\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
