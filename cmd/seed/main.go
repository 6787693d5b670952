// Command seed uploads reference documents into the collection store. It
// expects a directory with one subdirectory per collection (policy, entity,
// market by default); every file inside a subdirectory is uploaded to that
// collection. PDF files are validated and their page counts reported.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/crestline/renewals/internal/config"
	"github.com/crestline/renewals/pkg/lifecycle"
	"github.com/crestline/renewals/pkg/storage"
)

func main() {
	var (
		dir     = flag.String("dir", "seed", "Directory with one subdirectory per collection")
		workers = flag.Int("workers", 4, "Concurrent uploads")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed:", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		log.Fatal("storage init failed:", err)
	}

	lc := lifecycle.New()
	if err := store.Start(lc); err != nil {
		log.Fatal("storage start failed:", err)
	}
	lc.WaitForStartup()

	if err := seed(context.Background(), store, logger, *dir, *workers); err != nil {
		log.Fatal("seed failed:", err)
	}

	logger.Info("seed complete")
}

func seed(ctx context.Context, store storage.System, logger *slog.Logger, dir string, workers int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read seed directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		collection := entry.Name()
		files, err := os.ReadDir(filepath.Join(dir, collection))
		if err != nil {
			return fmt.Errorf("read collection %s: %w", collection, err)
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}

			path := filepath.Join(dir, collection, file.Name())
			g.Go(func() error {
				return upload(gctx, store, logger, collection, path)
			})
		}
	}

	return g.Wait()
}

func upload(ctx context.Context, store storage.System, logger *slog.Logger, collection, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	name := filepath.Base(path)
	contentType := detectContentType(name, data)

	if contentType == "application/pdf" {
		count, err := api.PageCount(bytes.NewReader(data), nil)
		if err != nil {
			return fmt.Errorf("invalid pdf %s: %w", path, err)
		}
		logger.Info("pdf validated", "collection", collection, "name", name, "pages", count)
	}

	key := collection + "/" + name
	if err := store.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	logger.Info("document uploaded", "collection", collection, "name", name, "bytes", len(data))
	return nil
}

func detectContentType(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	}
	return http.DetectContentType(data)
}
