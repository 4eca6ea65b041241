package destination_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockpit-project/citransfer/cmn"
	"github.com/cockpit-project/citransfer/destination"
)

func TestLocalWriteHasDelete(t *testing.T) {
	dir := t.TempDir()
	loc, err := destination.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}

	if loc.Has("a.txt") {
		t.Fatal("expected a.txt to not exist yet")
	}
	if err := loc.Write("a.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if !loc.Has("a.txt") {
		t.Fatal("expected a.txt to exist after Write")
	}
	loc.Delete([]string{"a.txt"})
	if loc.Has("a.txt") {
		t.Fatal("expected a.txt to be gone after Delete")
	}
}

func TestLocalWriteNestedPath(t *testing.T) {
	dir := t.TempDir()
	loc, err := destination.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := loc.Write("sub/dir/file.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub/dir/file.txt")); err != nil {
		t.Fatal(err)
	}
}

type fakePoster struct {
	puts    []string
	deletes []string
	cred    *cmn.Credential
}

func (f *fakePoster) S3Put(url string, body []byte, headers map[string]string, cred *cmn.Credential) {
	f.puts = append(f.puts, url)
	f.cred = cred
}
func (f *fakePoster) S3Delete(url string, cred *cmn.Credential) {
	f.deletes = append(f.deletes, url)
	f.cred = cred
}

type fakeCreds struct {
	cred cmn.Credential
	ok   bool
}

func (f fakeCreds) Lookup(host string) (cmn.Credential, bool) { return f.cred, f.ok }

func TestRemoteWriteSignsWhenCredentialAvailable(t *testing.T) {
	poster := &fakePoster{}
	r := &destination.Remote{
		BaseURL: "https://bucket.s3.example.com",
		Queue:   poster,
		Creds:   fakeCreds{cred: cmn.Credential{AccessID: "id", Secret: "sec"}, ok: true},
	}
	if err := r.Write("log.txt", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if len(poster.puts) != 1 || poster.puts[0] != "https://bucket.s3.example.com/log.txt" {
		t.Fatalf("unexpected puts: %+v", poster.puts)
	}
	if poster.cred == nil || poster.cred.AccessID != "id" {
		t.Fatalf("expected a resolved credential, got %+v", poster.cred)
	}
}

func TestRemoteWriteUnsignedWhenNoCredential(t *testing.T) {
	poster := &fakePoster{}
	r := &destination.Remote{
		BaseURL: "https://bucket.s3.example.com",
		Queue:   poster,
		Creds:   fakeCreds{ok: false},
	}
	if err := r.Write("log.txt", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if poster.cred != nil {
		t.Fatalf("expected a nil (unsigned) credential, got %+v", poster.cred)
	}
}

func TestRemoteHasIsAlwaysFalse(t *testing.T) {
	r := &destination.Remote{BaseURL: "https://bucket.s3.example.com", Queue: &fakePoster{}}
	if r.Has("anything") {
		t.Fatal("Remote.Has must always be false; presence tracking belongs to index.Index")
	}
}
