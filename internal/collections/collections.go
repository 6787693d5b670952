// Package collections manages the per-lane reference document store and
// assembles retrieval context for lane analysis.
package collections

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/crestline/renewals/pkg/storage"
)

// System provides document management per collection and context assembly
// for lane execution. A collection is named after the lane it feeds.
type System interface {
	// Context concatenates the readable documents of a collection into a
	// single retrieval context block.
	Context(ctx context.Context, collection string) (string, error)
	List(ctx context.Context, collection, marker string, maxResults int32) (*storage.ListResult, error)
	Find(ctx context.Context, collection, name string) (*storage.BlobInfo, error)
	Download(ctx context.Context, collection, name string) (*storage.DownloadResult, error)
	Upload(ctx context.Context, collection, name string, reader io.Reader, contentType string) error
	Delete(ctx context.Context, collection, name string) error
}

type system struct {
	store  storage.System
	cfg    Config
	logger *slog.Logger
}

func New(store storage.System, cfg Config, logger *slog.Logger) System {
	return &system{
		store:  store,
		cfg:    cfg,
		logger: logger.With("system", "collections"),
	}
}

func (s *system) Context(ctx context.Context, collection string) (string, error) {
	prefix := collection + "/"

	var (
		sb     strings.Builder
		marker string
	)

	for {
		page, err := s.store.List(ctx, prefix, marker, s.cfg.ListPageSize)
		if err != nil {
			return "", fmt.Errorf("list collection %s: %w", collection, err)
		}

		for _, item := range page.Items {
			if !readable(item.ContentType, item.Key) {
				continue
			}
			if err := s.appendDocument(ctx, &sb, item.Key); err != nil {
				return "", err
			}
			if s.cfg.MaxContextBytes > 0 && sb.Len() >= s.cfg.MaxContextBytes {
				s.logger.Warn("context truncated", "collection", collection, "bytes", sb.Len())
				return sb.String(), nil
			}
		}

		if page.NextMarker == nil {
			break
		}
		marker = *page.NextMarker
	}

	if sb.Len() == 0 {
		return "", ErrEmptyCollection
	}

	return sb.String(), nil
}

func (s *system) appendDocument(ctx context.Context, sb *strings.Builder, key string) error {
	doc, err := s.store.Download(ctx, key)
	if err != nil {
		return fmt.Errorf("download document %s: %w", key, err)
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(doc.Body)
	if err != nil {
		return fmt.Errorf("read document %s: %w", key, err)
	}

	fmt.Fprintf(sb, "=== source: %s ===\n\n", path.Base(key))
	sb.Write(content)
	sb.WriteString("\n\n")
	return nil
}

func (s *system) List(ctx context.Context, collection, marker string, maxResults int32) (*storage.ListResult, error) {
	if maxResults <= 0 {
		maxResults = s.cfg.ListPageSize
	}
	return s.store.List(ctx, collection+"/", marker, maxResults)
}

func (s *system) Find(ctx context.Context, collection, name string) (*storage.BlobInfo, error) {
	return s.store.Find(ctx, key(collection, name))
}

func (s *system) Download(ctx context.Context, collection, name string) (*storage.DownloadResult, error) {
	return s.store.Download(ctx, key(collection, name))
}

func (s *system) Upload(ctx context.Context, collection, name string, reader io.Reader, contentType string) error {
	if err := s.store.Upload(ctx, key(collection, name), reader, contentType); err != nil {
		return err
	}

	s.logger.Info("document uploaded", "collection", collection, "name", name)
	return nil
}

func (s *system) Delete(ctx context.Context, collection, name string) error {
	return s.store.Delete(ctx, key(collection, name))
}

func key(collection, name string) string {
	return collection + "/" + name
}

// readable reports whether a blob can be inlined into retrieval context.
// Binary formats are listed for browsing but never concatenated.
func readable(contentType, key string) bool {
	if strings.HasPrefix(contentType, "text/") ||
		contentType == "application/json" ||
		contentType == "application/markdown" {
		return true
	}

	switch strings.ToLower(path.Ext(key)) {
	case ".txt", ".md", ".json", ".csv":
		return true
	}

	return false
}
