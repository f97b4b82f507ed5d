// Package storage provides the object storage capability used for sealed
// documents: a Disk abstraction, an S3/MinIO implementation with object-lock
// retention, a local filesystem disk, and an in-memory disk.
//
// WORM retention is a property of how a disk is configured, never something
// negotiated per call.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrObjectLocked  = errors.New("object is locked")
	ErrUnknownDisk   = errors.New("unknown disk")
	ErrDuplicateDisk = errors.New("duplicate disk")
)

// Disk stores opaque byte blobs under string paths.
type Disk interface {
	// Name is the disk id recorded on contracts and audit records.
	Name() string
	// WORM reports whether objects written to the disk are retention-locked.
	WORM() bool
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// Registry maps configured disk ids to disks.
type Registry struct {
	disks map[string]Disk
}

// NewRegistry indexes disks by Name. Duplicate names are rejected.
func NewRegistry(disks ...Disk) (*Registry, error) {
	r := &Registry{disks: make(map[string]Disk, len(disks))}
	for _, d := range disks {
		if d == nil {
			continue
		}
		if _, ok := r.disks[d.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDisk, d.Name())
		}
		r.disks[d.Name()] = d
	}
	return r, nil
}

// Disk returns the disk registered under name.
func (r *Registry) Disk(name string) (Disk, error) {
	d, ok := r.disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDisk, name)
	}
	return d, nil
}

// Names lists registered disk ids in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.disks))
	for n := range r.disks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get reads path from the named disk.
func (r *Registry) Get(ctx context.Context, disk, path string) ([]byte, error) {
	d, err := r.Disk(disk)
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, path)
}
