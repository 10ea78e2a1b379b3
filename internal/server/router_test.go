package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/spate-cache/spate/internal/config"
	"github.com/spate-cache/spate/internal/logging"
	"github.com/spate-cache/spate/internal/spate"
)

func TestEntryPutThenGet(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doRequest(t, app, http.MethodPut, "/caches/sessions/user%2F42", `{"name":"ada"}`)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", resp.StatusCode, readBody(t, resp))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	resp = doRequest(t, app, http.MethodGet, "/caches/sessions/user%2F42", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != `{"name":"ada"}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != fiber.MIMEApplicationJSON {
		t.Fatalf("unexpected content type: %s", ct)
	}
}

func TestEntryKeysMayContainSlashes(t *testing.T) {
	app, registry := newTestApp(t)

	resp := doRequest(t, app, http.MethodPut, "/caches/sessions/library/alpine/latest", `1`)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	sessions, _ := registry.Lookup("sessions")
	if _, ok := sessions.Get(context.Background(), "library/alpine/latest"); !ok {
		t.Fatalf("expected key with slashes to be stored verbatim")
	}
}

func TestEntryGetMissing(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doRequest(t, app, http.MethodGet, "/caches/sessions/absent", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !bytes.Contains([]byte(body), []byte(`"entry_not_found"`)) {
		t.Fatalf("expected entry_not_found, got %s", body)
	}
}

func TestEntryUnknownCache(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doRequest(t, app, http.MethodGet, "/caches/nope/key", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !bytes.Contains([]byte(body), []byte(`"cache_not_found"`)) {
		t.Fatalf("expected cache_not_found, got %s", body)
	}
}

func TestEntryPutRejectsInvalidInput(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doRequest(t, app, http.MethodPut, "/caches/sessions/k", `{not json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPut, "/caches/sessions/k?ttl=soon", `1`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for invalid ttl, got %d", resp.StatusCode)
	}
}

func TestEntryPutWithTTL(t *testing.T) {
	app, registry := newTestApp(t)

	resp := doRequest(t, app, http.MethodPut, "/caches/sessions/short?ttl=1ns", `true`)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	time.Sleep(time.Millisecond)

	resp = doRequest(t, app, http.MethodGet, "/caches/sessions/short", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected expired entry to miss, got %d", resp.StatusCode)
	}
	flushCache(t, registry, "sessions")
}

func TestEntryDelete(t *testing.T) {
	app, registry := newTestApp(t)

	doRequest(t, app, http.MethodPut, "/caches/sessions/gone", `"x"`)
	resp := doRequest(t, app, http.MethodDelete, "/caches/sessions/gone", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	flushCache(t, registry, "sessions")

	resp = doRequest(t, app, http.MethodGet, "/caches/sessions/gone", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: quietLogger()}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func newTestApp(t *testing.T) (*fiber.App, *spate.Registry) {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      7070,
			StoragePath:     t.TempDir(),
			DefaultCapacity: config.ByteSize(1 << 20),
		},
		Caches: []config.CacheConfig{
			{Name: "sessions", Type: "lru"},
		},
	}
	registry, err := spate.NewRegistry(cfg, quietLogger())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	app, err := NewApp(AppOptions{
		Logger:     quietLogger(),
		Registry:   registry,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, registry
}

func quietLogger() *logrus.Logger {
	return logging.Discard()
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, "http://spate.local"+target, reader)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func flushCache(t *testing.T, registry *spate.Registry, name string) {
	t.Helper()
	c, ok := registry.Lookup(name)
	if !ok {
		t.Fatalf("cache %s not registered", name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Disk().Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
