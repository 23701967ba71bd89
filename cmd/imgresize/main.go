package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tgasco/portfolio-sync/internal/imaging"
)

// Run transcodes the given image files into the full variant tree
// below outDir, mirroring the layout the sync pipeline uploads.
func Run(outDir string, files []string) error {
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %q: %w", file, err)
		}

		variants, err := imaging.Transcode(data, imaging.AllTargets())
		if err != nil {
			return fmt.Errorf("failed to transcode %q: %w", file, err)
		}

		base := filepath.Base(file)
		name := strings.TrimSuffix(base, filepath.Ext(base))

		for _, v := range variants {
			dir := filepath.Join(outDir, string(v.Format), string(v.Size))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %q: %w", dir, err)
			}

			out := filepath.Join(dir, fmt.Sprintf("%s-%s.%s", name, v.Size, v.Format))
			if err := os.WriteFile(out, v.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write %q: %w", out, err)
			}

			slog.Info("Wrote variant", "file", out, "size", len(v.Data))
		}
	}

	return nil
}

func main() {
	outDir := flag.String("out", "./out", "output directory for the variant tree")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})

	slog.SetDefault(slog.New(handler))

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [-out dir] image...\n", os.Args[0])
		os.Exit(2)
	}

	if err := Run(*outDir, flag.Args()); err != nil {
		slog.Error("Transcode failed", "error", err)
		os.Exit(1)
	}
}
