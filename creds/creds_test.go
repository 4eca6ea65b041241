package creds_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockpit-project/citransfer/creds"
)

func TestLookupWalksHostnameSuffixes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "example.com"), []byte("AKID SECRET\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := creds.NewStoreAt(dir)

	cred, ok := store.Lookup("bucket.s3.example.com")
	if !ok {
		t.Fatal("expected a credential to be found by walking suffixes")
	}
	if cred.AccessID != "AKID" || cred.Secret != "SECRET" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	store := creds.NewStoreAt(t.TempDir())
	if _, ok := store.Lookup("nothing.example.com"); ok {
		t.Fatal("expected no credential to be found")
	}
}

func TestLookupSkipsMalformedFileAndContinues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "s3.example.com"), []byte("not-two-fields\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "example.com"), []byte("AKID SECRET\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := creds.NewStoreAt(dir)

	cred, ok := store.Lookup("bucket.s3.example.com")
	if !ok {
		t.Fatal("expected lookup to continue past the malformed file to the shorter suffix")
	}
	if cred.AccessID != "AKID" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestLookupStopsAtDotlessName(t *testing.T) {
	store := creds.NewStoreAt(t.TempDir())
	if _, ok := store.Lookup("localhost"); ok {
		t.Fatal("expected no credential for a dotless, non-existent name")
	}
}
