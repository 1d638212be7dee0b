package metric

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Amanmahe/chords-demo/errors"
)

// Server exposes /metrics in Prometheus format and /health as JSON.
type Server struct {
	port     int
	path     string
	server   *http.Server
	listener net.Listener
	registry *MetricsRegistry
	health   http.Handler
	routes   map[string]http.Handler
	tls      *tls.Config
	mu       sync.Mutex
}

// NewServer creates a new metrics server. health may be nil, in which case
// /health answers a plain 200 OK.
func NewServer(port int, path string, registry *MetricsRegistry, health http.Handler) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		health:   health,
		routes:   make(map[string]http.Handler),
	}
}

// Handle mounts an extra handler, such as a render surface endpoint, on the
// same listener. It must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[pattern] = handler
}

// WithTLS makes Start serve HTTPS, so websocket clients connect with wss.
// A nil config keeps plain HTTP.
func (s *Server) WithTLS(cfg *tls.Config) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tls = cfg
	return s
}

// Handler builds the HTTP mux served by Start.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	if s.health != nil {
		mux.Handle("/health", s.health)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	var links strings.Builder
	for pattern, h := range s.routes {
		mux.Handle(pattern, h)
		fmt.Fprintf(&links, "<p><a href=\"%s\">%s</a></p>\n", pattern, pattern)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>chords metrics</title></head>
<body>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
%s</body>
</html>`, s.path, links.String())
	})
	return mux
}

// Start binds the listener and serves until Stop. It blocks.
func (s *Server) Start() error {
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "check registry")
	}
	handler := s.Handler()

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"Server", "Start", "start metrics server")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", "serve metrics")
	}
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
	}
	return nil
}

// Address returns the metrics URL
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	scheme := "http"
	if s.tls != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.port, s.path)
}
