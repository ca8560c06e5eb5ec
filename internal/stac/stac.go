// Package stac defines the minimal STAC catalog abstractions the
// orchestration core needs: reading item links out of a catalog written by
// a service, and writing a linked list of aggregation catalogs back to
// object storage (§4.4, §4.5).
package stac

import "context"

// Item is a flattened STAC catalog link: an output artifact plus its byte
// size.
type Item struct {
	Href string
	Type string
	Size int64
}

// Reader reads a STAC catalog at a URL and returns its item links.
type Reader interface {
	ReadCatalogItems(ctx context.Context, url string) ([]Item, error)
}

// SizeResolver resolves the byte size of an output URL the service didn't
// report inline.
type SizeResolver interface {
	ResolveSize(ctx context.Context, url string) (int64, error)
}

// Catalog is one page of an aggregation's linked-list of STAC catalogs
// (§4.5: "write a linked list of catalogs to object storage").
type Catalog struct {
	Items    []Item
	NextHref string // empty on the last page
}

// Writer persists a sequence of aggregation catalog pages under a prefix,
// returning the href of the first page (the one a work item points at).
type Writer interface {
	WriteCatalogPages(ctx context.Context, prefix string, pages []Catalog) (firstHref string, err error)
}
