package worker

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

// NewRouter serves /metrics, /healthz and a task endpoint running one message
// synchronously.
func NewRouter(handler Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/tasks/{type}", taskHandler(handler, logger)).Methods(http.MethodPost)
	return router
}

var startedAt = time.Now()

// healthReport is the body of /healthz. Process figures are best effort.
type healthReport struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	RSSBytes uint64 `json:"rss_bytes,omitempty"`
	Threads  int32  `json:"threads,omitempty"`
	OpenFDs  int32  `json:"open_fds,omitempty"`
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	report := healthReport{Status: "healthy", Uptime: time.Since(startedAt).Round(time.Second).String()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			report.RSSBytes = mem.RSS
		}
		report.Threads, _ = proc.NumThreads()
		report.OpenFDs, _ = proc.NumFDs()
	}
	writeJSON(w, http.StatusOK, report)
}

func taskHandler(handler Handler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		msg := Message{}
		if len(body) > 0 {
			if msg, err = DecodeMessage(body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
		msg.Type = mux.Vars(r)["type"]

		if err := handler.Handle(r.Context(), msg); err != nil {
			logger.Error("task request failed", zap.String("type", msg.Type), zap.Error(err))
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
	}
}

func statusFor(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeConnection, errors.ErrorTypeQuery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is the admin HTTP server of the worker.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer serves router on addr
func NewServer(addr string, router http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With(zap.String("component", "admin_server")),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("admin server stopped")
	return nil
}
