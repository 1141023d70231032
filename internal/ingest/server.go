// Package ingest implements the LAN upload endpoint: a closed routing table
// serving the upload form and turning one multipart upload into a stored,
// classified file plus one host notification.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const defaultReadHeaderTimeout = 5 * time.Second

type Config struct {
	MediaDir          string
	SpoolDir          string
	MaxUploadBytes    int64
	ReadHeaderTimeout time.Duration
	Notifier          Notifier
	Logger            *slog.Logger
}

// Response is the transport-neutral result of Serve.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

type Server struct {
	store          *Store
	spoolDir       string
	maxUploadBytes int64
	notifier       Notifier
	logger         *slog.Logger
	httpServer     *http.Server

	mu       sync.Mutex
	listener net.Listener
	port     int
	done     chan struct{}
}

func New(cfg Config) *Server {
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}

	s := &Server{
		store:          NewStore(cfg.MediaDir),
		spoolDir:       cfg.SpoolDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger,
	}

	// requestID -> logging -> routes
	var handler http.Handler = s
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler exposes the wrapped handler for in-process use.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds port on all interfaces and serves on a background goroutine.
// Port 0 picks a free port, which Port then reports.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("ingest server already started")
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}

	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.done = make(chan struct{})

	s.logEvent(context.Background(), slog.LevelInfo, "ingest_server_start", slog.Int("port", s.port))

	go func(done chan struct{}) {
		defer close(done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logEvent(context.Background(), slog.LevelError, "ingest_server_error", slog.String("error", err.Error()))
		}
	}(s.done)
	return nil
}

// Port returns the bound port, or 0 if not started.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// IsAlive reports whether the listener is still serving.
func (s *Server) IsAlive() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Close stops the listener and drops in-flight connections.
func (s *Server) Close() error {
	s.mu.Lock()
	done := s.done
	started := s.listener != nil
	s.mu.Unlock()

	if !started {
		return nil
	}

	err := s.httpServer.Close()
	<-done
	s.logEvent(context.Background(), slog.LevelInfo, "ingest_server_stop", slog.Int("port", s.Port()))
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := newUploadRequest(r)

	if isUploadRoute(req.Method, req.Path) {
		if s.maxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		}
		if err := parseMultipartFields(r, s.spoolDir, &req); err != nil {
			s.logEvent(r.Context(), slog.LevelError, "upload_parse_failed", slog.String("error", err.Error()))
			if isTooLarge(err) {
				writeResponse(w, jsonResponse(http.StatusRequestEntityTooLarge, uploadResp{
					Success: false,
					Message: "Upload failed: file too large",
				}))
				return
			}
			writeResponse(w, uploadFailed(err))
			return
		}
		defer req.removeTempFiles()
	}

	writeResponse(w, s.Serve(r.Context(), req))
}

// Serve routes one request. The table is closed: anything not listed is 404.
func (s *Server) Serve(ctx context.Context, req UploadRequest) Response {
	switch {
	case req.Method == http.MethodGet && (req.Path == "/" || req.Path == "/index.html"):
		return Response{
			Status:      http.StatusOK,
			ContentType: "text/html",
			Body:        uploadPage,
		}
	case isUploadRoute(req.Method, req.Path):
		return s.HandleUpload(ctx, req)
	default:
		return Response{
			Status:      http.StatusNotFound,
			ContentType: "text/plain",
			Body:        []byte("404 Not Found"),
		}
	}
}

func isUploadRoute(method, path string) bool {
	return method == http.MethodPost && path == "/upload"
}

func jsonResponse(status int, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{
			Status:      http.StatusInternalServerError,
			ContentType: "text/plain",
			Body:        []byte("Internal server error"),
		}
	}
	return Response{
		Status:      status,
		ContentType: "application/json",
		Body:        body,
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) logEvent(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	s.logger.Log(ctx, level, msg, attrs...)
}
