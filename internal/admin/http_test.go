package admin

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ocx/ecsforge/internal/events"
)

func TestHTTPListLibrariesReturnsJSON(t *testing.T) {
	core := newTestCore(t)
	core.Libraries.Get("movement")
	srv := NewHTTPServer(core, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/libraries", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []LibraryView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 || views[0].Name != "movement" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHTTPReloadUnknownLibraryReturns404(t *testing.T) {
	core := newTestCore(t)
	srv := NewHTTPServer(core, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/libraries/ghost/reload", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHTTPReloadKnownLibrarySucceeds(t *testing.T) {
	core := newTestCore(t)
	core.Libraries.Get("movement")
	srv := NewHTTPServer(core, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/libraries/movement/reload", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPBusStatsReturnsJSON(t *testing.T) {
	core := newTestCore(t)
	srv := NewHTTPServer(core, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/bus", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var view BusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHTTPRejectsDisallowedOrigin(t *testing.T) {
	core := newTestCore(t)
	srv := NewHTTPServer(core, []string{"https://ops.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/admin/bus", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for disallowed origin, got %q", got)
	}
}

func TestHTTPAllowsConfiguredOrigin(t *testing.T) {
	core := newTestCore(t)
	srv := NewHTTPServer(core, []string{"https://ops.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/admin/bus", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Fatalf("expected origin echoed back, got %q", got)
	}
}

func TestHTTPEventStreamDeliversSSEFormattedEvents(t *testing.T) {
	core := newTestCore(t)
	srv := NewHTTPServer(core, nil)

	testServer := httptest.NewServer(srv.Router())
	defer testServer.Close()

	req, err := http.NewRequest(http.MethodGet, testServer.URL+"/admin/events/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// The handler subscribes to the event bus asynchronously on accept, so
	// give it a moment before publishing.
	time.Sleep(20 * time.Millisecond)
	core.Events.Emit(events.KindReloadRequested, "admin", "movement", map[string]interface{}{"library": "movement"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	deadline := time.Now().Add(2 * time.Second)
	for len(lines) < 3 && time.Now().Before(deadline) {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\n"))
		}
		if readErr != nil {
			break
		}
	}

	joined := strings.Join(lines, "\n")
	if !strings.HasPrefix(joined, "event: reload.requested") {
		t.Fatalf("expected SSE event line for reload.requested, got: %q", joined)
	}
	if !strings.Contains(joined, `"subject":"movement"`) {
		t.Fatalf("expected event data to contain subject movement, got: %q", joined)
	}
}
