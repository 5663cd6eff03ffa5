// Package main implements the coordinator service: it tracks volunteer
// storage nodes, splits uploaded files into replicated chunks and reassembles
// them on download.
//
// Configuration:
//   - COORDINATOR_CONFIG: optional YAML file (see internal/config)
//   - COORDINATOR_ADDR: listen address override (default ":8080")
//   - LOG_LEVEL: debug, info, warn or error
package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slices"

	"github.com/dreamware/pjas/internal/activity"
	"github.com/dreamware/pjas/internal/config"
	"github.com/dreamware/pjas/internal/coordinator"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load(getenv("COORDINATOR_CONFIG", ""))
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	logger := newLogger(cfg.LogLevel)
	transport := coordinator.NewNodeClient(cfg.PushTimeout, cfg.FetchTimeout)
	srv := newServer(cfg, transport, logger)
	defer srv.close()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("coordinator listening", "addr", cfg.Listen,
			"chunkSize", activity.FormatBytes(cfg.ChunkSize), "replicas", cfg.ReplicationFactor)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	logger.Info("coordinator stopped")
}

// newLogger builds the process logger. Unknown levels fall back to info;
// config.Validate rejects them before this is reached.
func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "coordinator",
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

type server struct {
	cfg      *config.Coordinator
	coord    *coordinator.Coordinator
	logger   *log.Logger
	nodes    *limiterPool
	uploads  *limiterPool
	upgrader websocket.Upgrader
}

func newServer(cfg *config.Coordinator, transport coordinator.ChunkTransport, logger *log.Logger) *server {
	act := activity.New(cfg.LogRetention, logger.With("component", "activity"))
	s := &server{
		cfg:     cfg,
		coord:   coordinator.New(cfg, transport, act),
		logger:  logger,
		nodes:   newLimiterPool("nodes", cfg.RateLimiters.Nodes, cfg.TrustedProxies, logger),
		uploads: newLimiterPool("uploads", cfg.RateLimiters.Uploads, cfg.TrustedProxies, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin admits clients without an Origin header, same-origin pages and
// the configured allowedOrigins.
func (s *server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *server) close() {
	s.nodes.stop()
	s.uploads.stop()
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/nodes/register", s.nodes.middleware(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	api.Handle("/nodes/heartbeat", s.nodes.middleware(http.HandlerFunc(s.handleHeartbeat))).Methods(http.MethodPost)
	api.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/stream", s.handleLogStream).Methods(http.MethodGet)
	api.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	api.Handle("/files/upload", s.uploads.middleware(http.HandlerFunc(s.handleUpload))).Methods(http.MethodPost)
	api.HandleFunc("/files/download/{file_id}", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/files/{file_id}", s.handleFile).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed"))
	})
	return r
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
