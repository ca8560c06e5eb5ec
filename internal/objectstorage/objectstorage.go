// Package objectstorage wraps one GCS bucket for job artifacts (§6); callers
// choose the object keys, and the package itself writes no per-item logs.
// It also implements the stac.Reader / stac.SizeResolver / stac.Writer
// contracts the update processor and planner depend on.
package objectstorage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/stac"
)

// Store is the generic key/value object surface the callback ingress uses
// to stage a streamed content body.
type Store interface {
	PutStream(ctx context.Context, key string, contentType string, body io.Reader) (href string, err error)
}

type Bucket struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func New(client *storage.Client, bucket string, baseLog *logger.Logger) *Bucket {
	return &Bucket{log: baseLog.With("component", "ObjectStorage"), client: client, bucket: bucket}
}

func (b *Bucket) object(key string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(key)
}

// PutStream writes body to <bucket>/<key> and returns its gs:// href.
func (b *Bucket) PutStream(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := b.object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object writer %s: %w", key, err)
	}
	return b.href(key), nil
}

func (b *Bucket) href(key string) string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, key)
}

func (b *Bucket) keyFromHref(href string) string {
	prefix := fmt.Sprintf("gs://%s/", b.bucket)
	return strings.TrimPrefix(href, prefix)
}

// ReadCatalogItems implements stac.Reader: read a single catalog JSON
// document and return its item links, following NextHref pages.
func (b *Bucket) ReadCatalogItems(ctx context.Context, href string) ([]stac.Item, error) {
	var out []stac.Item
	for href != "" {
		r, err := b.object(b.keyFromHref(href)).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("open catalog %s: %w", href, err)
		}
		var page stac.Catalog
		err = json.NewDecoder(r).Decode(&page)
		closeErr := r.Close()
		if err != nil {
			return nil, fmt.Errorf("decode catalog %s: %w", href, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close catalog reader %s: %w", href, closeErr)
		}
		out = append(out, page.Items...)
		href = page.NextHref
	}
	return out, nil
}

// ResolveSize implements stac.SizeResolver: read the object's byte size
// from its GCS attributes when the service didn't report it inline.
func (b *Bucket) ResolveSize(ctx context.Context, href string) (int64, error) {
	attrs, err := b.object(b.keyFromHref(href)).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("stat object %s: %w", href, err)
	}
	return attrs.Size, nil
}

// WriteCatalogPages implements stac.Writer: writes pages as a linked list
// of catalog<n>.json documents under prefix and returns the first page's
// href (§4.5: "write a linked list of catalogs to object storage").
func (b *Bucket) WriteCatalogPages(ctx context.Context, prefix string, pages []stac.Catalog) (string, error) {
	if len(pages) == 0 {
		return "", nil
	}
	keys := make([]string, len(pages))
	for i := range pages {
		keys[i] = fmt.Sprintf("%s/catalog%d.json", prefix, i)
	}
	for i, page := range pages {
		if i < len(pages)-1 {
			page.NextHref = b.href(keys[i+1])
		}
		body, err := json.Marshal(page)
		if err != nil {
			return "", fmt.Errorf("marshal catalog page %d: %w", i, err)
		}
		if _, err := b.PutStream(ctx, keys[i], "application/json", strings.NewReader(string(body))); err != nil {
			return "", err
		}
	}
	return b.href(keys[0]), nil
}
