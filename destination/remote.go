package destination

import (
	"net/url"
	"strings"

	"github.com/cockpit-project/citransfer/cmn"
)

// DefaultACL is the x-amz-acl header value applied to every PUT unless the
// caller overrides it, per spec.md §6.
const DefaultACL = "public-read"

// Remote writes artifacts to an S3-compatible object store through a
// signed, paced httpqueue.Queue. Has is always false: presence tracking
// over a Remote destination is the job of index.Index.
type Remote struct {
	BaseURL string // e.g. "https://bucket.s3.example.com/prefix"
	Queue   Poster
	Creds   CredentialLookup
}

var _ Destination = (*Remote)(nil)

func (r *Remote) Has(string) bool { return false }

func (r *Remote) Write(name string, data []byte) error {
	headers := map[string]string{
		"Content-Type": cmn.GuessContentType(name),
		"x-amz-acl":    DefaultACL,
	}
	cred := r.credential()
	r.Queue.S3Put(r.objectURL(name), data, headers, cred)
	return nil
}

func (r *Remote) Delete(names []string) {
	cred := r.credential()
	for _, name := range names {
		r.Queue.S3Delete(r.objectURL(name), cred)
	}
}

func (r *Remote) objectURL(name string) string {
	return strings.TrimRight(r.BaseURL, "/") + "/" + url.PathEscape(name)
}

// credential returns nil when no credential resolves for the store's host,
// which Queue.S3Put/S3Delete treat as "issue unsigned" per spec.md §3.
func (r *Remote) credential() *cmn.Credential {
	if r.Creds == nil {
		return nil
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return nil
	}
	cred, ok := r.Creds.Lookup(u.Hostname())
	if !ok {
		return nil
	}
	return &cred
}
