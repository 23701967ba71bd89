package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/tgasco/portfolio-sync/internal/cache"
	"github.com/tgasco/portfolio-sync/internal/githubsrc"
	"github.com/tgasco/portfolio-sync/internal/pipeline"
	"github.com/tgasco/portfolio-sync/internal/scheduler"
	"github.com/tgasco/portfolio-sync/internal/server"
	"github.com/tgasco/portfolio-sync/internal/store"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func Run(ctx context.Context) error {

	listen := flag.String("listen", "8080", "HTTP listen port")
	endpoint := flag.String("endpoint", getenv("S3_ENDPOINT", "localhost:9000"), "S3 endpoint host")
	bucket := flag.String("bucket", getenv("S3_BUCKET", "portfolio-assets"), "S3 bucket name")
	region := flag.String("region", getenv("S3_REGION", ""), "S3 region")
	secure := flag.Bool("secure", getenv("S3_SECURE", "") == "true", "use HTTPS towards the S3 endpoint")
	user := flag.String("github-user", getenv("GITHUB_USER", ""), "GitHub user whose repositories are scanned")
	cronSpec := flag.String("cron", getenv("REFRESH_CRON", "0 4 * * *"), "cache refresh schedule")
	cacheTTL := flag.Duration("cache-ttl", 86460*time.Second, "lifetime of the cached project list")
	retryDelay := flag.Duration("retry-delay", 5*time.Minute, "pause between failed refresh attempts")
	maxAttempts := flag.Int("max-attempts", 3, "refresh attempts per run, initial try included")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	if *user == "" {
		return errors.New("a GitHub user is required (set -github-user or GITHUB_USER)")
	}

	st, err := store.New(store.Config{
		Endpoint:  *endpoint,
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Region:    *region,
		Bucket:    *bucket,
		Secure:    *secure,
	})
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}

	if err := st.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	fetcher := githubsrc.New(githubsrc.Config{
		User:  *user,
		Token: os.Getenv("GITHUB_TOKEN"),
	})

	pipe := pipeline.New(fetcher, st)

	projectCache := cache.New(*cacheTTL)
	defer projectCache.Stop()

	sched, err := scheduler.New(ctx, scheduler.Config{
		CronSpec:    *cronSpec,
		CacheKey:    "projects",
		RetryDelay:  *retryDelay,
		MaxAttempts: *maxAttempts,
	}, pipe.Run, projectCache)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	api := server.New(server.Config{CacheKey: "projects"}, projectCache, st)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *listen),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	sched.Start(ctx)
	defer sched.Stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	eg.Go(func() error {
		slog.Info("Starting portfolio API server", "port", *listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Portfolio sync started", "github_user", *user, "bucket", *bucket, "cron", *cronSpec)
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Portfolio sync exited with error", "error", err)
	}
}
