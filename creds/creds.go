// Package creds resolves S3 credentials from a directory of per-host files,
// per SPEC_FULL.md §6 / spec.md §6.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package creds

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"

	"github.com/cockpit-project/citransfer/cmn"
)

const (
	envKeyDir   = "COCKPIT_S3_KEY_DIR"
	appDirName  = "cockpit-dev"
	keysDirName = "s3-keys"
)

// Store resolves credentials from a directory, one file per hostname.
type Store struct {
	dir string
}

// NewStore resolves the credential directory following SPEC_FULL.md §6:
// COCKPIT_S3_KEY_DIR if set, else os.UserConfigDir()/cockpit-dev/s3-keys.
func NewStore() (*Store, error) {
	if dir := os.Getenv(envKeyDir); dir != "" {
		return &Store{dir: dir}, nil
	}
	cfg, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{dir: filepath.Join(cfg, appDirName, keysDirName)}, nil
}

// NewStoreAt builds a Store rooted at an explicit directory, primarily for
// tests.
func NewStoreAt(dir string) *Store { return &Store{dir: dir} }

// Lookup walks progressively shorter suffixes of host (a.b.c -> b.c -> c)
// until a well-formed credential file is found or the remaining name has
// no dot left. Malformed files are logged and skipped, and lookup
// continues at the next (shorter) suffix.
func (s *Store) Lookup(host string) (cmn.Credential, bool) {
	name := host
	for {
		cred, ok, malformed := s.readFile(name)
		if ok {
			return cred, true
		}
		if malformed {
			glog.Warningf("creds: malformed credential file for %q, skipping", name)
		}
		idx := strings.IndexByte(name, '.')
		if idx < 0 {
			return cmn.Credential{}, false
		}
		name = name[idx+1:]
	}
}

func (s *Store) readFile(name string) (cred cmn.Credential, ok bool, malformed bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return cmn.Credential{}, false, false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return cmn.Credential{}, false, true
	}
	return cmn.Credential{AccessID: fields[0], Secret: fields[1]}, true, false
}
