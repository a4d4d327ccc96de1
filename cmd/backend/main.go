package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"securedrop/internal/app"
	"securedrop/internal/server"
	"securedrop/internal/store/miniostore"
	"securedrop/internal/store/postgres"
	"securedrop/internal/store/redisstore"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	addr := getenvDefault("SD_ADDR", ":8080")

	build := server.BuildInfo{
		Version: getenvDefault("SD_VERSION", "dev"),
		Commit:  getenvDefault("SD_COMMIT", "unknown"),
	}

	// Root context governs the background machinery (sweep, removal feed,
	// reaper); it is cancelled after the HTTP server has drained.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meta, runSweep, err := openMetadataStore(ctx, log)
	if err != nil {
		return err
	}

	blobs, err := miniostore.New(ctx, miniostore.Config{
		Endpoint:  getenvDefault("SD_S3_ENDPOINT", "localhost:9000"),
		AccessKey: os.Getenv("SD_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("SD_S3_SECRET_KEY"),
		Bucket:    getenvDefault("SD_S3_BUCKET", "securedrop"),
	})
	if err != nil {
		return err
	}

	maxUpload := int64(getenvInt("SD_MAX_UPLOAD_BYTES", 5<<20))

	mode := app.ModePresign
	if getenvDefault("SD_DOWNLOAD_MODE", "presign") == "stream" {
		mode = app.ModeStream
	}

	tasks := app.NewRunner(log, 5*time.Minute)
	uploads := app.NewLimiter(meta,
		int64(getenvInt("SD_UPLOAD_RATE_LIMIT", 10)), time.Hour, app.FailClosed, log)
	downloads := app.NewLimiter(meta,
		int64(getenvInt("SD_DOWNLOAD_RATE_LIMIT", 20)), time.Hour, app.FailOpen, log)

	svc := app.NewService(meta, blobs, app.SystemClock{}, tasks, uploads, downloads, log, app.Config{
		MaxUploadBytes: maxUpload,
		Mode:           mode,
	})

	// The removal feed drives blob cleanup for both TTL expiry and explicit
	// deletes.
	removals, err := meta.Removals(ctx)
	if err != nil {
		return err
	}
	reaper := app.NewReaper(blobs, log)
	go reaper.Run(ctx, removals)
	if runSweep != nil {
		go runSweep(ctx)
	}

	var turnstile *server.TurnstileVerifier
	if secret := os.Getenv("SD_TURNSTILE_SECRET"); secret != "" {
		turnstile = server.NewTurnstileVerifier(secret)
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("SD_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	srv := server.New(svc, server.Config{
		Addr:           addr,
		MaxUploadBytes: maxUpload,
		AllowedOrigins: origins,
		Turnstile:      turnstile,
		Mode:           mode,
		Build:          build,
	}, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting", "addr", addr, "version", build.Version, "commit", build.Commit)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Stop the background machinery and let in-flight deferred work (blob
	// writes, destroy-on-download cleanup) finish.
	cancel()
	tasks.Wait()
	log.Info("shutdown complete")
	return nil
}

// openMetadataStore picks the metadata backend from SD_METADATA_BACKEND
// ("redis" or "postgres"). The second return value, when non-nil, is a
// background loop the caller must start (the PostgreSQL TTL sweep).
func openMetadataStore(ctx context.Context, log *slog.Logger) (app.MetadataStore, func(context.Context), error) {
	switch backend := getenvDefault("SD_METADATA_BACKEND", "redis"); backend {
	case "redis":
		st, err := redisstore.New(ctx, redisstore.Config{
			Addr:     getenvDefault("SD_REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("SD_REDIS_PASSWORD"),
			DB:       getenvInt("SD_REDIS_DB", 0),
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case "postgres":
		dsn := os.Getenv("SD_DATABASE_URL")
		log.Info("running migrations")
		if err := postgres.RunMigrations(dsn); err != nil {
			return nil, nil, err
		}
		st, err := postgres.New(ctx, postgres.Config{DSN: dsn}, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Run, nil
	default:
		return nil, nil, errUnknownBackend(backend)
	}
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string {
	return "unknown SD_METADATA_BACKEND: " + string(e)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
