package admin

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// HTTPServer exposes Core's read-mostly operations over REST/JSON, plus an
// SSE stream of the ops event bus for operators that can't open a websocket.
type HTTPServer struct {
	core           *Core
	allowedOrigins []string
	logger         *log.Logger
}

// NewHTTPServer builds the admin HTTP router. allowedOrigins configures the
// CORS policy for the dashboard frontend; pass ["*"] to allow any origin.
func NewHTTPServer(core *Core, allowedOrigins []string) *HTTPServer {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &HTTPServer{
		core:           core,
		allowedOrigins: allowedOrigins,
		logger:         log.New(log.Writer(), "[ADMIN http] ", log.LstdFlags),
	}
}

func (s *HTTPServer) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Router builds the mux.Router serving the admin HTTP surface, ready to be
// passed to http.ListenAndServe or mounted under a larger router.
func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if origin := req.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			if req.Method != http.MethodGet || req.URL.Path != "/admin/events/stream" {
				w.Header().Set("Content-Type", "application/json")
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/admin/libraries", s.handleListLibraries).Methods("GET")
	r.HandleFunc("/admin/libraries/{name}/reload", s.handleReloadLibrary).Methods("POST")
	r.HandleFunc("/admin/scenes", s.handleListScenes).Methods("GET")
	r.HandleFunc("/admin/bus", s.handleBusStats).Methods("GET")
	r.HandleFunc("/admin/events/stream", s.handleEventStream).Methods("GET")
	return r
}

// ListenAndServe starts the admin HTTP server on addr, blocking until it
// exits.
func (s *HTTPServer) ListenAndServe(addr string) error {
	s.logger.Printf("admin HTTP surface listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *HTTPServer) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.core.listLibraries())
}

func (s *HTTPServer) handleReloadLibrary(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.core.reloadLibrary(name) {
		http.Error(w, fmt.Sprintf("library %q not loaded", name), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "reloaded", "library": name})
}

func (s *HTTPServer) handleListScenes(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.core.listScenes())
}

func (s *HTTPServer) handleBusStats(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.core.busStats())
}

// handleEventStream streams the ops event bus as Server-Sent Events until
// the client disconnects.
func (s *HTTPServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.core.Events.Subscribe()
	defer s.core.Events.Unsubscribe(sub)

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			payload, err := event.SSEFormat()
			if err != nil {
				s.logger.Printf("failed to format event %s for SSE: %v", event.Type, err)
				continue
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
