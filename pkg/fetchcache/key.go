package fetchcache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/pagestore/pkg/fingerprint"
	"github.com/Sternrassler/pagestore/pkg/pagination"
)

const keyPrefix = "pagestore"

// PageKey identifies one cached upstream page.
type PageKey struct {
	// Resource is the pagination resource name
	Resource string

	// Fingerprint is the argument fingerprint, or "default" without arguments
	Fingerprint string

	// PageSize is the requested page size
	PageSize int

	// Page is the 1-based page number
	Page int
}

// String generates a deterministic cache key string.
// Format: pagestore:resource:fingerprint:size=N:page=N
//
// The resource segment is query escaped, so it never contains ':' or a
// Redis glob metacharacter.
//
// Example:
//
//	pagestore:orders:default:size=10:page=2
func (k PageKey) String() string {
	return strings.Join([]string{
		keyPrefix,
		escapeResource(k.Resource),
		k.Fingerprint,
		fmt.Sprintf("size=%d", k.PageSize),
		fmt.Sprintf("page=%d", k.Page),
	}, ":")
}

// resourcePrefix is the prefix shared by every key of resource.
func resourcePrefix(resource string) string {
	return keyPrefix + ":" + escapeResource(resource) + ":"
}

func escapeResource(resource string) string {
	return url.QueryEscape(resource)
}

// KeyFor builds the key of a fetch request.
func KeyFor(resource string, req pagination.FetchRequest) (PageKey, error) {
	fp := "default"
	if req.Args != nil {
		var err error
		fp, err = fingerprint.Of(req.Args)
		if err != nil {
			return PageKey{}, err
		}
	}
	return PageKey{
		Resource:    resource,
		Fingerprint: fp,
		PageSize:    req.PageSize,
		Page:        req.Page,
	}, nil
}
