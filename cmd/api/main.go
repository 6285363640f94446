package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Dan9191/devsecops-api/internal/auth"
	"github.com/Dan9191/devsecops-api/internal/config"
	"github.com/Dan9191/devsecops-api/internal/handler"
	"github.com/Dan9191/devsecops-api/internal/metrics"
	"github.com/Dan9191/devsecops-api/internal/middleware"
	"github.com/Dan9191/devsecops-api/internal/repository"
	"github.com/Dan9191/devsecops-api/internal/scheduler"
	"github.com/Dan9191/devsecops-api/internal/service"
	"github.com/Dan9191/devsecops-api/internal/utils/email"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Sample files placed in a freshly created uploads directory.
var sampleUploads = map[string]string{
	"photo.jpg":    "sample image placeholder\n",
	"document.pdf": "sample document placeholder\n",
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := newLogger(cfg)

	// Initialize database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		logger.Fatalf("Failed to ping database: %v", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		cancel()
		logger.Fatalf("Failed to apply migrations: %v", err)
	}
	cancel()

	if err := ensureUploads(cfg.UploadsDir, logger); err != nil {
		logger.Fatalf("Failed to prepare uploads directory: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		logger.Fatalf("Invalid bcrypt cost: %v", err)
	}
	tokens := auth.NewTokenManager(cfg.JWTSecret, auth.TokenTTL)
	mailer := email.NewSender(cfg, logger)
	accounts := service.NewService(repo, hasher, tokens, service.NewValidator(service.DefaultPasswordPolicy()), mailer, logger)
	files, err := service.NewFileService(cfg.UploadsDir, logger)
	if err != nil {
		logger.Fatalf("Failed to resolve uploads directory: %v", err)
	}
	m := metrics.New()
	limiter := middleware.NewRateLimiter(cfg.LoginRatePerMin, cfg.LoginRateBurst)
	limiter.TrustProxy = cfg.TrustProxy

	h := handler.NewHandler(accounts, files, m, logger)
	router := handler.NewRouter(h, handler.RouterConfig{
		Tokens:       tokens,
		LoginLimiter: limiter,
		CORSOrigins:  cfg.CORSOrigins,
		Log:          logger,
	})

	// Maintenance jobs
	sched := scheduler.New(logger, 5*time.Second)
	if _, err := sched.Add("@every 1m", "prune-login-limiter", func(context.Context) error {
		if n := limiter.Prune(10 * time.Minute); n > 0 {
			logger.Debugf("Pruned %d idle rate limiter buckets", n)
		}
		return nil
	}); err != nil {
		logger.Fatalf("Failed to schedule job: %v", err)
	}
	if _, err := sched.Add("@every 30s", "database-health", func(ctx context.Context) error {
		if err := repo.Ping(ctx); err != nil {
			m.DatabaseUp.Set(0)
			return err
		}
		m.DatabaseUp.Set(1)
		return nil
	}); err != nil {
		logger.Fatalf("Failed to schedule job: %v", err)
	}
	sched.Start()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		logger.Errorf("Server failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
	sched.Stop()
	mailer.Wait()
	logger.Info("Server stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

// ensureUploads creates dir when missing and seeds it with sample files.
func ensureUploads(dir string, logger *logrus.Logger) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for name, content := range sampleUploads {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o640); err != nil {
			return err
		}
	}
	logger.Infof("Created uploads directory %s", dir)
	return nil
}
