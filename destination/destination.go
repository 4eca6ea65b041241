// Package destination implements the Destination abstraction (SPEC_FULL.md
// C6 / spec.md §4.6): a three-operation sink with Local (filesystem) and
// Remote (signed S3-compatible) variants.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package destination

import (
	"github.com/cockpit-project/citransfer/cmn"
)

// Destination is the abstract sink every producer writes through.
type Destination interface {
	// Has reports whether name has already been written. Remote returns
	// false unconditionally; callers needing presence tracking over a
	// Remote must compose it with an index.Index.
	Has(name string) bool
	Write(name string, data []byte) error
	Delete(names []string)
}

// Poster is the subset of httpqueue.Queue that Remote needs.
type Poster interface {
	S3Put(url string, body []byte, headers map[string]string, cred *cmn.Credential)
	S3Delete(url string, cred *cmn.Credential)
}

// CredentialLookup resolves a credential for a hostname, as creds.Store
// does; Remote does not import creds directly to avoid coupling the sink
// abstraction to one particular resolution strategy.
type CredentialLookup interface {
	Lookup(host string) (cmn.Credential, bool)
}
