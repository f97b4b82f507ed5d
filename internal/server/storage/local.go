package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/contractvault/internal/filex"
)

// LocalDisk stores objects under a root directory. It has no object-lock
// semantics and must never be configured as the WORM disk.
type LocalDisk struct {
	name string
	root string
}

// NewLocalDisk creates root if needed.
func NewLocalDisk(name, root string) (*LocalDisk, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	return &LocalDisk{name: name, root: abs}, nil
}

func (d *LocalDisk) Name() string { return d.name }
func (d *LocalDisk) WORM() bool   { return false }

func (d *LocalDisk) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(full, data)
}

func (d *LocalDisk) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (d *LocalDisk) resolve(path string) (string, error) {
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if full != d.root && !strings.HasPrefix(full, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes disk root", path)
	}
	return full, nil
}
