// Package fetcher retrieves dataset artifacts (columnar snapshots, topology
// documents, auxiliary CSVs) over HTTP or from the local filesystem.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Fetcher defines the interface for retrieving dataset artifacts.
type Fetcher interface {
	// Open returns the content at location, which is either an http(s) URL or
	// a local path.
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// DownloadToFile copies the content at location to path. Returns bytes written.
	DownloadToFile(ctx context.Context, location string, path string) (int64, error)
}

// StatusError is returned when a server answers with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, status)
}

// Temporary reports whether a later attempt may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Resolve joins a relative artifact path onto base. Absolute URLs and an
// empty base leave p unchanged.
func Resolve(base, p string) string {
	if base == "" || IsRemote(p) || strings.HasPrefix(p, "/") {
		return p
	}
	if !IsRemote(base) {
		return strings.TrimRight(base, "/") + "/" + p
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return p
	}
	ref, err := url.Parse(p)
	if err != nil {
		return p
	}
	return u.ResolveReference(ref).String()
}
