// Package index decorates a destination.Destination with an HTML directory
// listing over everything written through it (SPEC_FULL.md C7 /
// spec.md §4.7).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package index

import (
	"sort"
	"strings"
	"sync"
	"text/template"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/cockpit-project/citransfer/destination"
)

// DefaultFilename is the artifact name the rendered listing is written
// under, per spec.md §6.
const DefaultFilename = "index.html"

var listTemplate = template.Must(template.New("index").Parse(
	`<!doctype html><html><body><ul>{{range .}}<li><a href={{.}}>{{.}}</a></li>{{end}}</ul></body></html>`,
))

// ErrDeleteUnsupported names why Index does not delete: the Index is
// append-only from the producer's point of view (spec.md §4.7); the
// uploader's finalization path deletes through the underlying Destination
// directly, bypassing Index. Delete itself has no error result and does not
// return it.
var ErrDeleteUnsupported = errors.New("index: Delete is unsupported; write-only from the producer's view")

// Index wraps a destination.Destination and tracks every name written
// through it. cuckoo is a negative-fast-path membership filter: a filter
// miss is authoritative (no false negatives), a filter hit falls through
// to the exact set, so correctness never depends on the filter.
type Index struct {
	dest     destination.Destination
	filename string

	mu     sync.Mutex
	names  map[string]struct{}
	cuckoo *cuckoo.Filter
	dirty  bool
}

var _ destination.Destination = (*Index)(nil)

// New wraps dest, rendering the listing under DefaultFilename.
func New(dest destination.Destination) *Index {
	return NewNamed(dest, DefaultFilename)
}

// NewNamed wraps dest, rendering the listing under filename.
func NewNamed(dest destination.Destination, filename string) *Index {
	return &Index{
		dest:     dest,
		filename: filename,
		names:    make(map[string]struct{}),
		cuckoo:   cuckoo.NewFilter(1024),
	}
}

// Has answers from the tracked set, not from the underlying Destination —
// this is what lets Index be composed in front of a Remote destination,
// whose own Has is unconditionally false.
func (ix *Index) Has(name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.cuckoo.Lookup([]byte(name)) {
		return false
	}
	_, ok := ix.names[name]
	return ok
}

// Write records name and forwards the write to the underlying Destination,
// marking the index dirty so the next Sync regenerates the listing.
func (ix *Index) Write(name string, data []byte) error {
	if err := ix.dest.Write(name, data); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.names[name] = struct{}{}
	ix.cuckoo.Insert([]byte(name))
	ix.dirty = true
	ix.mu.Unlock()
	return nil
}

// Delete deletes nothing: it logs an error and returns. See
// ErrDeleteUnsupported.
func (ix *Index) Delete([]string) {
	glog.Errorf("index: Delete called on an Index; this is a no-op by design, use the underlying Destination")
}

// Underlying returns the wrapped Destination, for callers (the uploader's
// finalization path) that need to delete artifacts without going through
// Index's append-only Write/Delete contract.
func (ix *Index) Underlying() destination.Destination { return ix.dest }

// Sync regenerates the HTML listing (sorted filenames) and writes it under
// the configured index filename, clearing the dirty flag. A no-op if
// nothing changed since the last Sync.
func (ix *Index) Sync() error {
	ix.mu.Lock()
	if !ix.dirty {
		ix.mu.Unlock()
		return nil
	}
	names := make([]string, 0, len(ix.names))
	for n := range ix.names {
		names = append(names, n)
	}
	sort.Strings(names)
	ix.mu.Unlock()

	var buf strings.Builder
	if err := listTemplate.Execute(&buf, names); err != nil {
		return errors.Wrap(err, "index: render listing")
	}
	if err := ix.dest.Write(ix.filename, []byte(buf.String())); err != nil {
		return errors.Wrap(err, "index: write listing")
	}

	ix.mu.Lock()
	ix.names[ix.filename] = struct{}{}
	ix.cuckoo.Insert([]byte(ix.filename))
	ix.dirty = false
	ix.mu.Unlock()
	return nil
}
