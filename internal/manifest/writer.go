package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// View file names under the manifest prefix.
const (
	FileCovers       = "covers.json"
	FileURLs         = "urls.json"
	FileRandomSample = "random_sample.json"
	FileByYear       = "by_year.json"
)

// Document is one rendered view.
type Document struct {
	Name string
	Body any
}

// Views derives every published document from the same entry list.
func Views(entries []cover.ManifestEntry, sampleSize int, seed int64) []Document {
	if entries == nil {
		entries = []cover.ManifestEntry{}
	}
	return []Document{
		{Name: FileCovers, Body: entries},
		{Name: FileURLs, Body: URLs(entries)},
		{Name: FileRandomSample, Body: RandomSample(entries, sampleSize, seed)},
		{Name: FileByYear, Body: ByYear(entries)},
	}
}

// Writer stores documents and, when a mirror is set, copies them and the
// referenced images there too.
type Writer struct {
	store  cover.BlobStore
	mirror cover.BlobStore
	prefix string
	logger *zap.Logger
}

// NewWriter builds a Writer. mirror may be nil.
func NewWriter(store, mirror cover.BlobStore, prefix string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "manifests"
	}
	return &Writer{store: store, mirror: mirror, prefix: prefix, logger: logger}
}

// Path is the object path of a view.
func (w *Writer) Path(name string) string {
	return path.Join(w.prefix, name)
}

// Write encodes each document and stores it. The local store renames into
// place, so a failed write leaves the previous document intact. It returns
// the URI of every written document keyed by name.
func (w *Writer) Write(ctx context.Context, docs []Document) (map[string]string, error) {
	uris := make(map[string]string, len(docs))
	for _, doc := range docs {
		data, err := json.MarshalIndent(doc.Body, "", "  ")
		if err != nil {
			return uris, fmt.Errorf("encode %s: %w", doc.Name, err)
		}
		data = append(data, '\n')

		objectPath := w.Path(doc.Name)
		uri, err := w.store.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
		if err != nil {
			return uris, fmt.Errorf("write %s: %w", doc.Name, err)
		}
		uris[doc.Name] = uri
		w.logger.Info("manifest written", zap.String("name", doc.Name), zap.String("uri", uri), zap.Int("bytes", len(data)))

		if w.mirror != nil {
			if _, err := w.mirror.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data)); err != nil {
				return uris, fmt.Errorf("mirror %s: %w", doc.Name, err)
			}
		}
	}
	return uris, nil
}

// MirrorImages copies the given objects from reader to the mirror. It is a
// no-op without a mirror.
func (w *Writer) MirrorImages(ctx context.Context, reader cover.BlobReader, paths []string) (int, error) {
	if w.mirror == nil {
		return 0, nil
	}
	copied := 0
	for _, p := range paths {
		data, err := reader.GetObject(ctx, p)
		if err != nil {
			return copied, fmt.Errorf("read %s for mirror: %w", p, err)
		}
		if _, err := w.mirror.PutObject(ctx, p, "image/jpeg", bytes.NewReader(data)); err != nil {
			return copied, fmt.Errorf("mirror %s: %w", p, err)
		}
		copied++
	}
	w.logger.Info("images mirrored", zap.Int("count", copied))
	return copied, nil
}
