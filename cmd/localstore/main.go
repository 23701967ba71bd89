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
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/tgasco/portfolio-sync/internal/localstore"
)

func Run(ctx context.Context) error {

	listen := flag.String("listen", "9000", "HTTP listen port")
	dataDir := flag.String("data-dir", "./data", "directory to store object data")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	server, err := localstore.NewServer(ctx, localstore.Config{
		DataDir: absDataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create object store server: %w", err)
	}

	defer server.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *listen),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	eg.Go(func() error {
		slog.Info("Starting local object store", "port", *listen, "data_dir", absDataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Local object store exited with error", "error", err)
	}
}
