package destination

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Local writes artifacts under a directory on the local filesystem.
type Local struct {
	Dir string
}

var _ Destination = (*Local)(nil)

// NewLocal returns a Local destination rooted at dir, creating it if
// necessary.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "destination: create %s", dir)
	}
	return &Local{Dir: dir}, nil
}

func (l *Local) Has(name string) bool {
	_, err := os.Stat(filepath.Join(l.Dir, name))
	return err == nil
}

func (l *Local) Write(name string, data []byte) error {
	path := filepath.Join(l.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "destination: mkdir for %s", name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "destination: write %s", name)
	}
	return nil
}

func (l *Local) Delete(names []string) {
	for _, name := range names {
		if err := os.Remove(filepath.Join(l.Dir, name)); err != nil && !os.IsNotExist(err) {
			// Local deletion failures are non-fatal: spec.md names no
			// transactional guarantee across objects (Non-goals, §1).
			continue
		}
	}
}
