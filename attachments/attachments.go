// Package attachments mirrors a local directory tree into a
// destination.Destination, skipping files already present there
// (SPEC_FULL.md C8 / spec.md §4.8).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package attachments

import (
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"golang.org/x/sync/errgroup"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/cockpit-project/citransfer/destination"
)

// DefaultConcurrency bounds how many files are read-and-written at once.
// spec.md §4.8 explicitly gives no ordering guarantee between files, which
// is exactly what an errgroup worker pool provides.
const DefaultConcurrency = 8

// Mirror walks root and writes every file whose relative path is not
// already present in dest. Concurrency <= 0 uses DefaultConcurrency.
func Mirror(root string, dest destination.Destination, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var relPaths []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			relPaths = append(relPaths, rel)
			return nil
		},
	})
	if err != nil {
		return errors.Wrapf(err, "attachments: walk %s", root)
	}

	g := new(errgroup.Group)
	sem := make(chan struct{}, concurrency)

	for _, rel := range relPaths {
		rel := rel
		if dest.Has(rel) {
			glog.V(2).Infof("attachments: skipping %s, already present", rel)
			continue
		}
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			data, err := os.ReadFile(filepath.Join(root, rel))
			if err != nil {
				return errors.Wrapf(err, "attachments: read %s", rel)
			}
			if err := dest.Write(rel, data); err != nil {
				return errors.Wrapf(err, "attachments: write %s", rel)
			}
			return nil
		})
	}

	return g.Wait()
}
