package stubserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config is the stub backend runtime configuration.
type Config struct {
	HTTPAddr string
	LogLevel string

	// DatabaseURL switches the store to Postgres when set.
	DatabaseURL string
	DBSchema    string

	AnalysisDelay time.Duration
	ChunkInterval time.Duration
}

// LoadConfig reads Config from IMZO_STUB_* environment variables.
func LoadConfig() Config {
	return Config{
		HTTPAddr:      envString("IMZO_STUB_HTTP_ADDR", "0.0.0.0:8091"),
		LogLevel:      envString("IMZO_STUB_LOG_LEVEL", "info"),
		DatabaseURL:   envString("IMZO_STUB_DATABASE_URL", ""),
		DBSchema:      envString("IMZO_STUB_DB_SCHEMA", "imzo"),
		AnalysisDelay: envDuration("IMZO_STUB_ANALYSIS_DELAY", 2*time.Second),
		ChunkInterval: envDuration("IMZO_STUB_CHUNK_INTERVAL", gwDefaultChunkInterval),
	}
}

// Server owns the stub's HTTP server and store lifecycle.
type Server struct {
	cfg  Config
	log  *slog.Logger
	pool *pgxpool.Pool

	store Store
	otp   *OTPService
	api   *API
	gw    *Gateway
}

// New wires a Server from config.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		s.store = NewInMemoryStore()
	} else {
		pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), pcfg)
		if err != nil {
			return nil, err
		}
		if err := pingPool(pool, 3*time.Second); err != nil {
			pool.Close()
			return nil, err
		}
		st, err := NewPostgresStore(pool, WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
		s.pool = pool
		s.store = st
	}

	s.otp = NewOTPService(log)
	s.api = NewAPI(log, s.store, s.otp)
	if cfg.AnalysisDelay > 0 {
		s.api.AnalysisDelay = cfg.AnalysisDelay
	}
	s.gw = NewGateway(log, s.store, s.otp, nil)
	if cfg.ChunkInterval > 0 {
		s.gw.SetChunking(gwDefaultChunkRunes, cfg.ChunkInterval)
	}

	return s, nil
}

// Handler builds the full HTTP handler, including /metrics. Tests mount it
// on httptest servers directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.api.Register(mux, s.gw)
	mux.Handle("GET /metrics", promhttp.Handler())
	return WithRequestLogging(mux, s.log)
}

// Run serves until ctx is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info("stub.start", "addr", s.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("stub.stop", "reason", "context_done")
	case err := <-errCh:
		s.log.Error("stub.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("stub.shutdown.fail", "err", err)
		return err
	}

	if err := s.store.Close(); err != nil {
		s.log.Error("store.close.fail", "err", err)
	}
	if s.pool != nil {
		s.pool.Close()
	}

	s.log.Info("stub.stopped")
	return nil
}

// Run is the CLI entrypoint used by cmd/imzo-stub.
func Run() error {
	cfg := LoadConfig()
	log := newLogger(cfg.LogLevel)

	s, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return s.Run(ctx)
}

func pingPool(pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// ---- env helpers ----

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
